package credit

import (
	"github.com/mlandesman/SAMS-sub020/internal/credit/repository"
	"github.com/mlandesman/SAMS-sub020/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
