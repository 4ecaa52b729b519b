package migration

import (
	"errors"

	"github.com/smallbiznis/contentgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			return nil
		}
		err := Apply(conn)
		if errors.Is(err, ErrUnsupportedDialect) {
			log.Warn("skipping auto migration", zap.String("dialect", conn.Dialector.Name()))
			return nil
		}
		return err
	}),
)
