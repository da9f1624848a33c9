package journal

import (
	"github.com/mlandesman/SAMS-sub020/internal/journal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("journal.service",
	fx.Provide(service.NewService),
)
