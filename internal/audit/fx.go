package audit

import (
	"github.com/smallbiznis/contentgate/internal/audit/repository"
	"github.com/smallbiznis/contentgate/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
