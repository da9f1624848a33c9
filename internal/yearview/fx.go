package yearview

import (
	"github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"github.com/mlandesman/SAMS-sub020/internal/yearview/service"
	"go.uber.org/fx"
)

var Module = fx.Module("yearview.service",
	fx.Provide(
		service.NewService,
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) domain.Invalidator { return s },
	),
)
