package gate

import (
	"github.com/smallbiznis/contentgate/internal/capability"
	"go.uber.org/fx"
)

var Module = fx.Module("gate",
	fx.Provide(
		func(issuer *capability.Issuer) TokenIssuer { return issuer },
		New,
	),
)
