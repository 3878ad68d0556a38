// Package daemon implements the vswitchd process lifecycle: it builds
// the reclamation domain, registry, and datapath, attaches the
// configured ports, serves metrics, and tears everything down in order
// on shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"firestige.xyz/vswitch/internal/config"
	logpkg "firestige.xyz/vswitch/internal/log"
	"firestige.xyz/vswitch/internal/metrics"
	"firestige.xyz/vswitch/internal/vswitch/datapath"
	"firestige.xyz/vswitch/internal/vswitch/grace"
	"firestige.xyz/vswitch/internal/vswitch/vport"
)

// Daemon manages the vswitchd daemon process lifecycle.
type Daemon struct {
	config     *config.Config
	configPath string
	pidFile    string

	dom      *grace.Domain
	registry *vport.Registry
	dp       *datapath.Datapath
	ports    []*vport.Vport

	metricsServer *metrics.Server // nil if metrics disabled

	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
}

// New creates a new Daemon instance.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		pidFile:    pidFile,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting vswitchd",
		"switch", d.config.Switch.Name,
		"config", d.configPath,
		"ports", len(d.config.Ports),
	)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.dom = grace.NewDomain()
	d.registry = vport.NewRegistry(d.dom, backendOps()...)

	ns := vport.NewNetns(d.config.Switch.Netns)
	d.dp = datapath.New(d.config.Switch.Name, ns, nil)

	if err := d.attachPorts(); err != nil {
		return err
	}

	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(
			d.config.Metrics.Listen,
			d.config.Metrics.Path,
			metrics.NewCollector(d.registry),
		)
		if err := d.metricsServer.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	} else {
		slog.Info("metrics server disabled")
	}

	slog.Info("daemon started successfully")
	return nil
}

// attachPorts creates the configured ports under the management lock.
func (d *Daemon) attachPorts() error {
	d.registry.Lock()
	defer d.registry.Unlock()

	for _, pc := range d.config.Ports {
		parms := &vport.Parms{
			Name:     pc.Name,
			Type:     portType(pc.Type),
			Options:  pc.Options,
			Datapath: d.dp,
			PortNo:   pc.PortNo,
			UpcallID: pc.UpcallID,
		}
		v, err := d.registry.Add(parms)
		if err != nil {
			return fmt.Errorf("failed to add port %s (%s): %w", pc.Name, pc.Type, err)
		}
		d.ports = append(d.ports, v)
		slog.Info("port attached", "port", v.Name(), "type", v.Type().String(), "port_no", v.PortNo())
	}
	return nil
}

func portType(s string) vport.PortType {
	switch s {
	case "netdev":
		return vport.TypeNetdev
	case "internal":
		return vport.TypeInternal
	default:
		return vport.TypeUnspec
	}
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// Detach ports first, then wait out the grace period so every
	// deferred free has run before the process exits.
	d.registry.Lock()
	for _, v := range d.ports {
		d.registry.Del(v)
		d.registry.DeferredFree(v)
	}
	d.ports = nil
	d.registry.Unlock()
	d.registry.Close()

	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(context.Background()); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	logpkg.Flush()
	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered
// by SIGTERM or SIGINT. SIGHUP reloads the log configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig.String())
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration and applies what can change at
// runtime: the log level and format. Port and listener changes require
// a restart.
func (d *Daemon) Reload() error {
	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if err := logpkg.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}
	d.config.Log = newConfig.Log

	slog.Info("configuration reloaded", "hot_reloaded", []string{"log"})
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
