package infra

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresDSN monta a DSN no formato key=value do driver pgx.
func PostgresDSN(host, port, user, password, name string) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, name,
	)
}

type DatabaseConfig struct {
	ExistingDB  *gorm.DB
	Dialector   gorm.Dialector
	Logger      logger.Interface
	AutoMigrate bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type DatabaseOption func(*DatabaseConfig)

func WithExistingDB(db *gorm.DB) DatabaseOption {
	return func(cfg *DatabaseConfig) { cfg.ExistingDB = db }
}

func WithDialector(d gorm.Dialector) DatabaseOption {
	return func(cfg *DatabaseConfig) { cfg.Dialector = d }
}

func WithGormLogger(l logger.Interface) DatabaseOption {
	return func(cfg *DatabaseConfig) { cfg.Logger = l }
}

func WithAutoMigrate(enabled bool) DatabaseOption {
	return func(cfg *DatabaseConfig) { cfg.AutoMigrate = enabled }
}

func WithConnPool(maxOpen, maxIdle int, lifetime, idle time.Duration) DatabaseOption {
	return func(cfg *DatabaseConfig) {
		cfg.MaxOpenConns = maxOpen
		cfg.MaxIdleConns = maxIdle
		cfg.ConnMaxLifetime = lifetime
		cfg.ConnMaxIdleTime = idle
	}
}

// OpenDatabase abre (ou adota) a conexão e migra a tabela ip_blacklist.
// Sem WithDialector/WithExistingDB usa postgres com a dsn informada.
func OpenDatabase(dsn string, opts ...DatabaseOption) (*gorm.DB, error) {
	cfg := DatabaseConfig{
		Logger:          silentLogger(),
		AutoMigrate:     true,
		MaxOpenConns:    16,
		MaxIdleConns:    16,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var db *gorm.DB
	switch {
	case cfg.ExistingDB != nil:
		db = cfg.ExistingDB
	default:
		dialector := cfg.Dialector
		if dialector == nil {
			if dsn == "" {
				return nil, fmt.Errorf("database: no dsn or dialector provided")
			}
			dialector = postgres.Open(dsn)
		}
		gormCfg := &gorm.Config{}
		if cfg.Logger != nil {
			gormCfg.Logger = cfg.Logger
		}
		var err error
		db, err = gorm.Open(dialector, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: open connection: %w", err)
		}
		configureConnectionPool(db, cfg)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(BlacklistModels()...); err != nil {
			return nil, fmt.Errorf("database: auto migrate: %w", err)
		}
		log.Debug("database migration completed")
	}
	return db, nil
}

func silentLogger() logger.Interface {
	return logger.New(
		log.Default(),
		logger.Config{LogLevel: logger.Silent},
	)
}

func configureConnectionPool(db *gorm.DB, cfg DatabaseConfig) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("database: get sql.DB", "error", err)
		return
	}

	maxIdle := cfg.MaxIdleConns
	if cfg.MaxOpenConns > 0 && maxIdle > cfg.MaxOpenConns {
		maxIdle = cfg.MaxOpenConns
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}
