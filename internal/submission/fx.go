package submission

import (
	"github.com/smallbiznis/contentgate/internal/submission/repository"
	"github.com/smallbiznis/contentgate/internal/submission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("submission.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
