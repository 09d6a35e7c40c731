// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flowplaned runs the flowplane control-plane daemon: it loads the
// HCL configuration, registers the IPv4/IPv6 flow-table types, creates the
// configured namespaces and flow tables, and serves the management API
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/flowplane/internal/api"
	"grimm.is/flowplane/internal/config"
	"grimm.is/flowplane/internal/ctlplane"
	"grimm.is/flowplane/internal/dataplane"
	"grimm.is/flowplane/internal/device"
	"grimm.is/flowplane/internal/family"
	"grimm.is/flowplane/internal/flowtable"
	"grimm.is/flowplane/internal/kernel"
	"grimm.is/flowplane/internal/logging"
	"grimm.is/flowplane/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	listen := flag.String("listen", "", "Management API listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "flowplaned: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listenOverride string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}

	logCfg := logging.DefaultConfig()
	if cfg.LogLevel != "" {
		logCfg.Level = logging.Level(cfg.LogLevel)
	}
	logging.SetDefault(logging.New(logCfg))
	logger := logging.WithComponent("flowplaned")

	gcInterval, err := cfg.GCIntervalDuration()
	if err != nil {
		return err
	}

	var resolver device.Resolver
	if len(cfg.Devices) > 0 {
		resolver = device.NewStaticResolver(cfg.Devices...)
		logger.Info("Using static device list", "devices", cfg.Devices)
	} else {
		resolver = device.NewNetlinkResolver()
	}

	types := flowtable.NewTypeRegistry()
	if err := family.Register(types); err != nil {
		return err
	}

	var m *metrics.Set
	if cfg.Metrics {
		m = metrics.New()
	}

	hub := api.NewHub(nil)
	notifiers := ctlplane.MultiNotifier{hub}

	var mirror *kernel.Mirror
	if cfg.KernelOffload {
		off, err := kernel.NewNFTOffloader("")
		if err != nil {
			return err
		}
		mirror = kernel.NewMirror(off, nil)
		notifiers = append(notifiers, mirror)
		logger.Info("Kernel flowtable offload enabled")
	}

	dispatcher := dataplane.NewDispatcher(nil)
	engine := ctlplane.NewEngine(ctlplane.Options{
		Metrics:    m,
		Types:      types,
		Resolver:   resolver,
		Installer:  dispatcher,
		Notifier:   notifiers,
		GCInterval: gcInterval,
	})

	if err := applyConfig(engine, cfg); err != nil {
		return err
	}

	watcher := device.NewWatcher(nil)
	if len(cfg.Devices) == 0 {
		if err := watcher.Start(engine.HandleDeviceRemoved); err != nil {
			logger.Warn("Device watcher unavailable", "error", err)
		}
	}

	server := api.NewServer(engine, hub, m, nil)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown failed", "error", err)
	}
	watcher.Stop()
	hub.Close()
	engine.Close()
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			logger.Warn("Kernel offload teardown failed", "error", err)
		}
	}
	return nil
}

// applyConfig creates the configured namespaces, tables and flow tables.
func applyConfig(engine *ctlplane.Engine, cfg *config.Config) error {
	for _, ns := range cfg.Namespaces {
		engine.EnsureNamespace(ns.Name)
		for _, tbl := range ns.Tables {
			engine.EnsureTable(ns.Name, tbl.Name, tbl.TableFamily())
			for _, ft := range tbl.Flowtables {
				tx, err := engine.Begin(ns.Name)
				if err != nil {
					return err
				}
				err = tx.CreateFlowtable(ctlplane.CreateRequest{
					Table:  tbl.Name,
					Name:   ft.Name,
					Family: tbl.TableFamily(),
					Hook: ctlplane.HookSpec{
						Num:      ft.Hook,
						Priority: ft.Priority,
						Devices:  ft.Devices,
					},
				})
				if err != nil {
					tx.Abort()
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
