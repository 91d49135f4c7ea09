// Package app wires the store, core registries, and TCP transport into one
// runnable server.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus-server/internal/config"
	"github.com/nexuschat/nexus-server/internal/core"
	"github.com/nexuschat/nexus-server/internal/store"
	"github.com/nexuschat/nexus-server/internal/transport/tcp"
)

// App owns the assembled server.
type App struct {
	server *tcp.Server
	log    *zerolog.Logger
}

// New loads the document and constructs the server around it.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st := store.New(cfg.DataFile)
	doc, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	c := core.New(doc, st, logger)
	server := tcp.NewServer(cfg.Addr, c, cfg.ShutdownTimeout, logger)

	logger.Info().
		Str("data_file", cfg.DataFile).
		Int("users", len(doc.Users)).
		Int("rooms", len(doc.Rooms)).
		Msg("document loaded")

	return &App{server: server, log: logger}, nil
}

// Run listens and serves until ctx cancellation. Connections are closed and
// handlers drained before it returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.server.Listen(); err != nil {
		return err
	}
	a.log.Info().Str("addr", a.server.Addr().String()).Msg("server listening")
	return a.server.Serve(ctx)
}
