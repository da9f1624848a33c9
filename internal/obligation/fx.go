package obligation

import (
	"github.com/mlandesman/SAMS-sub020/internal/obligation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("obligation.service",
	fx.Provide(service.NewService),
)
