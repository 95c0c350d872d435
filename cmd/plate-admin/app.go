package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"plate-lookup/internal/common/database"
	"plate-lookup/internal/common/logger"
	"plate-lookup/internal/config"
	"plate-lookup/internal/repository"
	"plate-lookup/internal/service"
	"plate-lookup/internal/store"
)

// app 运行期依赖；测试里替换 openStore
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  repository.PlateStore
	db     *sql.DB

	openStore func(ctx context.Context, a *app) (repository.PlateStore, error)
}

func newApp() *app {
	return &app{openStore: openPostgresStore}
}

func (a *app) init(ctx context.Context) error {
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logger == nil {
		log, err := logger.NewLogger(a.cfg.Log.Level, "console", "plate-admin")
		if err != nil {
			return err
		}
		a.logger = log
	}
	if a.store == nil {
		s, err := a.openStore(ctx, a)
		if err != nil {
			return err
		}
		a.store = s
	}
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = database.Close(a.db)
		a.db = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// openPostgresStore 管理命令只面向持久化存储
func openPostgresStore(ctx context.Context, a *app) (repository.PlateStore, error) {
	if !a.cfg.DBEnabled {
		return nil, errors.New("plate-admin needs a database: set DB_ENABLED=true")
	}
	db, err := database.NewPostgresDB(ctx, &a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	return repository.NewPostgresPlateStore(db), nil
}

// services 管理命令不发事件、不删照片
func (a *app) services() (*service.SearchService, *service.ParkingSyncService) {
	pending := service.NewPendingTracker(a.store, store.NewMemoryKV(), time.Minute, nil, a.logger)
	search := service.NewSearchService(a.store, pending, nil, a.logger)
	return search, service.NewParkingSyncService(a.store, nil, nil, a.logger)
}
