package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/api"
	"github.com/dokzlo13/lightctl/internal/config"
	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/db"
	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/eventbus"
	"github.com/dokzlo13/lightctl/internal/ledger"
	"github.com/dokzlo13/lightctl/internal/metrics"
	"github.com/dokzlo13/lightctl/internal/preset"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger
	Bus     *eventbus.Bus
	Metrics *metrics.Metrics

	// Pipeline
	Host       *HostService
	Controller *ensure.Controller
	Control    *control.Service
	Presets    *preset.Manager

	// Outer surfaces, both optional
	API    *api.Server
	Script *ScriptService

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Metrics = metrics.New()

	s.Host, err = NewHostService(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Controller = ensure.NewController(s.Host.Host, ensure.WithSink(eventbus.NewSink(s.Bus)))
	s.Control = control.NewService(s.Controller, Defaults(cfg))
	s.Presets = preset.NewManager(preset.NewStore(database.DB), s.Control, s.Host.Host, s.Bus)

	if cfg.HTTP.Enabled {
		s.API = api.NewServer(cfg.HTTP.Addr(), api.Deps{
			Service:     s.Control,
			Presets:     s.Presets,
			Ledger:      s.Ledger,
			Metrics:     s.Metrics,
			Backend:     cfg.Host.Backend,
			Ready:       database.PingContext,
			CORSOrigins: cfg.HTTP.CORSOrigins,
		})
	}

	if cfg.Script != "" {
		s.Script = NewScriptService(cfg.Script, s.Control, s.Presets, cfg.EventBus.GetQueueSize())
	}

	return s, nil
}

// Defaults maps the ensure section onto the control layer's defaults.
func Defaults(cfg *config.Config) control.Defaults {
	return control.Defaults{
		Settings:   cfg.Ensure.Settings(),
		Tolerance:  cfg.Ensure.Tolerances(),
		Retry:      cfg.Ensure.Retry(),
		LogSuccess: cfg.Ensure.LogSuccess,
	}
}

// Start subscribes the bus consumers and starts the background services.
// The onFatalError callback is called when a background service stops with an error.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Bus.Subscribe(eventbus.EventTypeOperationCompleted, eventbus.OperationHandler(func(rec ensure.OperationRecord) {
		if err := s.Ledger.RecordOperation(rec); err != nil {
			log.Error().Err(err).Str("operation_id", rec.Result.OperationID).Msg("Failed to record operation")
		}
	}))
	s.Metrics.Subscribe(s.Bus)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), s.cfg.Ledger.RetentionDays)
	}()

	if s.API != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(err)
			}
		}()
	}

	if s.Script != nil {
		if err := s.Script.Start(ctx, s.Bus); err != nil {
			return err
		}
	}

	return nil
}

// Stop waits for background services, drains the bus and releases resources.
// The context given to Start must already be cancelled.
func (s *Services) Stop() error {
	s.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.Bus.Close(shutdownCtx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Script != nil {
		s.Script.Close()
		s.Script = nil
	}
	if s.Bus != nil {
		s.Bus.Close(context.Background())
	}
	if s.Host != nil {
		s.Host.Close()
	}
	if s.DB != nil {
		s.DB.Close()
		s.DB = nil
	}
}
