package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/versolabs/noema/config"
	"github.com/versolabs/noema/embedding"
	"github.com/versolabs/noema/executor"
	"github.com/versolabs/noema/llm"
	"github.com/versolabs/noema/pattern"
	"github.com/versolabs/noema/procedure"
	"github.com/versolabs/noema/storage"
	"github.com/versolabs/noema/storage/memstore"
	"github.com/versolabs/noema/storage/natskv"
)

// app wires the configured storage backend, LLM client and core components
// for the CLI commands. Construction is lazy so commands that need no
// storage (validate) never connect anywhere.
type app struct {
	logger *slog.Logger

	cfg   *config.Config
	store storage.Store
	nc    *nats.Conn
}

func newApp(logger *slog.Logger) *app {
	return &app{logger: logger}
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.NewLoader(a.logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	switch cfg.Storage.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.Storage.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("open JetStream: %w", err)
		}
		store, err := natskv.New(ctx, js, natskv.WithLogger(a.logger))
		if err != nil {
			nc.Close()
			return nil, err
		}
		a.nc = nc
		a.store = store
	default:
		a.store = memstore.New(memstore.WithLogger(a.logger))
	}
	return a.store, nil
}

func (a *app) close() {
	if a.nc != nil {
		a.nc.Close()
	}
}

// embedder returns the configured embedding function, or nil when no model
// is configured. Core components degrade gracefully without one.
func (a *app) embedder() embedding.Func {
	cfg, err := a.loadConfig()
	if err != nil || cfg.Model.EmbedModel == "" {
		return nil
	}
	opts := []llm.Option{
		llm.WithEmbedModel(cfg.Model.EmbedModel),
		llm.WithTemperature(cfg.Model.Temperature),
		llm.WithLogger(a.logger),
	}
	if cfg.Model.Timeout > 0 {
		opts = append(opts, llm.WithHTTPClient(&http.Client{Timeout: cfg.Model.Timeout}))
	}
	client := llm.NewClient(cfg.Model.Endpoint, cfg.Model.Default, opts...)
	return client.EmbeddingFunc()
}

func (a *app) builder(ctx context.Context) (*procedure.Builder, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []procedure.BuilderOption{procedure.WithLogger(a.logger)}
	if embed := a.embedder(); embed != nil {
		opts = append(opts, procedure.WithEmbedder(embed))
	}
	return procedure.NewBuilder(store, opts...), nil
}

func (a *app) executor(ctx context.Context) (*executor.Executor, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return executor.New(store, executor.WithLogger(a.logger)), nil
}

func (a *app) patternEngine(ctx context.Context) (*pattern.Engine, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []pattern.Option{pattern.WithLogger(a.logger)}
	if embed := a.embedder(); embed != nil {
		opts = append(opts, pattern.WithEmbedder(embed))
	}
	return pattern.NewEngine(store, opts...), nil
}
