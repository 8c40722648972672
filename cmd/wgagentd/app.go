package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tunnelmesh/wgagentd/agentlog"
	"github.com/tunnelmesh/wgagentd/config"
	"github.com/tunnelmesh/wgagentd/control"
	"github.com/tunnelmesh/wgagentd/manager"
	"github.com/tunnelmesh/wgagentd/metrics"
	"github.com/tunnelmesh/wgagentd/platform"
)

// ShutdownTimeout bounds the metrics server's graceful shutdown. It is also
// the context handed to manager.ShutdownAll, but Tunnel.Stop does not
// observe that context; each tunnel's stop is bounded by
// tunnel.StopTimeout instead, and the control server's Stop has no bound.
const ShutdownTimeout = 30 * time.Second

// Application is the single value tree main owns: configuration, logger,
// tunnel registry, and the two network-facing servers. Nothing here is a
// package-level global.
type Application struct {
	cfgPath string
	cfg     *config.Config
	log     *agentlog.Logger

	mgr           *manager.Manager
	controlServer *control.Server
	metricsServer *http.Server

	wg sync.WaitGroup
}

// newApplication loads configuration and wires every component without
// starting any background task.
func newApplication(cfgPath, version string) (*Application, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := agentlog.New(cfg.Agent.LogLevel)
	mgr := manager.New(log, platform.New())

	dispatcher := control.NewDispatcher(mgr, log)
	controlServer := control.NewServer(cfg.Agent.ControlSocketPath, dispatcher, log)

	publisher := metrics.New(mgr, version)
	metricsServer := &http.Server{
		Addr:         cfg.Agent.MetricsAddr,
		Handler:      publisher.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return &Application{
		cfgPath:       cfgPath,
		cfg:           cfg,
		log:           log,
		mgr:           mgr,
		controlServer: controlServer,
		metricsServer: metricsServer,
	}, nil
}

// start brings up autostart-enabled networks and the control socket, and
// launches the metrics endpoint in a background goroutine; it returns once
// the control socket is listening, without waiting for the metrics
// listener. Each server's shutdown goroutine waits on ctx itself.
func (app *Application) start(ctx context.Context) error {
	app.log.Info("starting wgagentd", "control_socket", app.cfg.Agent.ControlSocketPath, "metrics_addr", app.cfg.Agent.MetricsAddr)

	app.mgr.AutoStart(ctx, app.cfg)

	if err := app.controlServer.Start(); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		<-ctx.Done()
		app.controlServer.Stop()
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.log.Info("starting metrics server", "addr", app.cfg.Agent.MetricsAddr)
		if err := app.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("metrics server failed", "error", err)
		}
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
			app.log.Error("metrics server shutdown failed", "error", err)
		}
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		app.mgr.ShutdownAll(shutdownCtx)
	}()

	return nil
}

// wait blocks until every shutdown goroutine started by start has
// returned.
func (app *Application) wait() {
	app.wg.Wait()
}

// reload re-reads the configuration file and reloads every network it
// describes: existing tunnels are reloaded (stopped and restarted with the
// new configuration), new enabled networks are registered and started.
// Networks removed from the file are left running; deleting them requires
// an explicit disconnect.
func (app *Application) reload(ctx context.Context) {
	app.log.Info("reloading configuration", "path", app.cfgPath)

	cfg, err := config.Load(app.cfgPath)
	if err != nil {
		app.log.Error("config reload failed", "error", err)
		return
	}
	app.cfg = cfg

	for name, netCfg := range cfg.Networks {
		if !netCfg.EnableWireGuard {
			continue
		}
		if err := app.mgr.Reload(ctx, name, netCfg); err != nil {
			if !errors.Is(err, manager.ErrNetworkNotFound) {
				app.log.Error("reload: reloading network failed", "network", name, "error", err)
				continue
			}
			app.mgr.Register(name, netCfg)
			if err := app.mgr.Connect(ctx, name); err != nil {
				app.log.Error("reload: starting new network failed", "network", name, "error", err)
				continue
			}
		}
		app.log.Info("reloaded network", "network", name)
	}
}
