package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/app"
	"github.com/noah-isme/edunotice/pkg/config"
	"github.com/noah-isme/edunotice/pkg/logger"
)

// environment is what every command needs before touching the database.
type environment struct {
	cfg *config.Config
	log *zap.Logger
}

func loadEnvironment(command string) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return &environment{cfg: cfg, log: logger.ForCommand(log, command)}, nil
}

func (e *environment) close() {
	_ = e.log.Sync()
}

func (e *environment) app(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, e.cfg, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise: %w", err)
	}
	return a, nil
}
