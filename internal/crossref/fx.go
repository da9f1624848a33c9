package crossref

import (
	"github.com/mlandesman/SAMS-sub020/internal/crossref/service"
	"go.uber.org/fx"
)

var Module = fx.Module("crossref.service",
	fx.Provide(service.NewService),
)
