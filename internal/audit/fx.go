package audit

import (
	"github.com/mlandesman/SAMS-sub020/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(service.NewService),
)
