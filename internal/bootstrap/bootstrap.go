// Package bootstrap 根据配置组装存储、指纹引擎、入库流水线和检索器，供各个命令共用。
package bootstrap

import (
	"FrameFinder/config"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/database"
	"FrameFinder/pkg/database/memory"
	"FrameFinder/pkg/database/mongo"
	"FrameFinder/pkg/database/postgres"
	"FrameFinder/pkg/decoder"
	"FrameFinder/pkg/hasher"
	"FrameFinder/pkg/ingest"
	"FrameFinder/pkg/maintenance"
	"FrameFinder/pkg/search"
	"FrameFinder/pkg/signature"
	"context"
	"fmt"
	"log/slog"
)

// App 持有一次运行所需的全部组件。
type App struct {
	Config      *config.Config
	Store       database.FrameStore
	Engine      *signature.Engine
	Pipeline    ingest.Pipeline
	Searcher    search.Searcher
	Maintenance maintenance.Maintenance
}

// OpenStore 按 driver 打开存储并确保表或索引存在。
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (database.FrameStore, error) {
	var store database.FrameStore
	switch cfg.Driver {
	case "mongo":
		s, err := mongo.NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = s
	case "postgres":
		s, err := postgres.NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = s
	case "memory":
		slog.Warn("使用内存存储，进程退出后数据会丢失")
		store = memory.NewStore()
	default:
		return nil, apperr.Newf(apperr.KindConfiguration, "bootstrap.OpenStore", "未知的存储类型: %q", cfg.Driver)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		store.Close(context.WithoutCancel(ctx))
		return nil, apperr.Wrap(err, apperr.KindStore, "bootstrap.OpenStore", "初始化存储结构失败")
	}
	return store, nil
}

// New 打开存储，核对存储中的尺寸配置，并创建其余组件。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app, err := NewWithStore(ctx, cfg, store, decoder.NewFFmpeg(cfg.Ingest.FFmpegPath))
	if err != nil {
		store.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

// NewWithStore 使用给定的存储和解码器创建组件，测试中用内存存储和假解码器。
func NewWithStore(ctx context.Context, cfg *config.Config, store database.FrameStore, dec decoder.Decoder) (*App, error) {
	if err := database.SyncConfig(ctx, store, cfg); err != nil {
		return nil, err
	}

	opts, err := signature.OptionsFromConfig(cfg.Fingerprint)
	if err != nil {
		return nil, err
	}
	engine, err := signature.NewEngine(opts)
	if err != nil {
		return nil, err
	}
	h, err := hasher.ByName(cfg.Ingest.ContentHash)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "bootstrap.New", "")
	}

	pipeline, err := ingest.NewPipeline(ingest.Options{
		Store:       store,
		Engine:      engine,
		Decoder:     dec,
		Hasher:      h,
		FrameRoot:   cfg.Ingest.FrameStoragePath,
		WorkerCount: cfg.Ingest.WorkerCount,
		BatchSize:   cfg.Ingest.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	searcher, err := search.NewSearcher(search.Options{
		Store:        store,
		Engine:       engine,
		RunTolerance: cfg.Search.RunTolerance,
		Perceptual:   cfg.Search.PerceptualDistance,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("组件初始化完成",
		"driver", cfg.Database.Driver,
		"image", fmt.Sprintf("%dx%d", opts.ImageWidth, opts.ImageHeight),
		"wavelet", fmt.Sprintf("%dx%d", opts.WaveletWidth, opts.WaveletHeight),
		"workers", cfg.Ingest.WorkerCount)

	return &App{
		Config:      cfg,
		Store:       store,
		Engine:      engine,
		Pipeline:    pipeline,
		Searcher:    searcher,
		Maintenance: maintenance.NewMaintenance(store, cfg.Ingest.FrameStoragePath, cfg.Ingest.WorkerCount),
	}, nil
}

// Close 关闭存储连接。
func (a *App) Close(ctx context.Context) error {
	return a.Store.Close(ctx)
}
