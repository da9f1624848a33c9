package payment

import (
	"github.com/mlandesman/SAMS-sub020/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(service.NewService),
)
