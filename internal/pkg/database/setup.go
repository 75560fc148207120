package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/config"
)

// Models lists every table owned or read by the paywall.
func Models() []any {
	return []any{
		&models.User{},
		&models.Media{},
		&models.EncodeProfile{},
		&models.Encoding{},
		&models.Payment{},
		&models.DownloadEntitlement{},
		&models.PaymentEvent{},
	}
}

// DSN builds the MySQL data source name for cfg.
func DSN(cfg config.DBConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)
}

// SetupDatabase connects to MySQL, retrying while the server comes up.
func SetupDatabase(cfg config.DBConfig, log zerolog.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < cfg.MaxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(cfg),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			if cfg.AutoMigrate {
				if err := db.AutoMigrate(Models()...); err != nil {
					return nil, fmt.Errorf("auto migrate: %w", err)
				}
			}
			return db, nil
		}

		log.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", cfg.MaxRetries).Msg("database connection failed")
		if i < cfg.MaxRetries-1 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	return nil, fmt.Errorf("connect database after %d attempts: %w", cfg.MaxRetries, err)
}
