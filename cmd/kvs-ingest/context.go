package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/prn-tf/kvs-ingest/internal/config"
)

// app is the per-invocation state prepared by the root command.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	formatter formatter
}

// appKey is the context key for storing the app.
type appKey struct{}

func withApp(ctx context.Context, a *app) context.Context {
	return context.WithValue(ctx, appKey{}, a)
}

// appFromContext retrieves the app from context.
func appFromContext(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey{}).(*app)
	if !ok || a == nil {
		return nil, errors.New("configuration not loaded")
	}
	return a, nil
}
