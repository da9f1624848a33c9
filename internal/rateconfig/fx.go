package rateconfig

import (
	"github.com/mlandesman/SAMS-sub020/internal/rateconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rateconfig.service",
	fx.Provide(service.NewService),
)
