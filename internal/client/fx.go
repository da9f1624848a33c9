package client

import (
	"github.com/mlandesman/SAMS-sub020/internal/client/service"
	"go.uber.org/fx"
)

var Module = fx.Module("client.service",
	fx.Provide(service.NewService),
)
