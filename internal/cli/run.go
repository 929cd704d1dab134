/*
Copyright 2025 The Adaptive Compute Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/adaptive-compute/workload-engine/internal/capacity"
	"github.com/adaptive-compute/workload-engine/internal/config"
	"github.com/adaptive-compute/workload-engine/internal/engine"
	"github.com/adaptive-compute/workload-engine/internal/logging"
	"github.com/adaptive-compute/workload-engine/internal/monitor"
)

var (
	storagePath  string
	linkBytes    uint64
	logVerbosity int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control loop",
	RunE:  runEngine,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.StringVar(&storagePath, "storage-path", "/", "filesystem path probed for storage utilization")
	fs.Uint64Var(&linkBytes, "link-bytes-per-sec", 125_000_000, "network link capacity used to normalize throughput")
	fs.IntVarP(&logVerbosity, "verbosity", "v", -1, "log verbosity override; -1 uses the config file value")
}

func runEngine(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	verbosity := cfg.Engine.LogVerbosity
	if logVerbosity >= 0 {
		verbosity = logVerbosity
	}
	log := logging.NewLogger(logging.Options{Verbosity: verbosity, JSON: cfg.Engine.LogJSON})

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	probes, _, _ := monitor.HostProbes(storagePath, linkBytes)

	ceiling := capacity.StaticCeiling{MaxUnits: cfg.Capacity.MaxUnits}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ceiling.MaxMemory = vm.Total
	} else {
		log.Info("Memory ceiling unavailable, continuing without one", "error", err)
	}

	registry := prometheus.NewRegistry()
	eng, err := engine.New(cfg, engine.Options{
		Probes:   probes,
		Ceiling:  ceiling,
		Logger:   log,
		Registry: registry,
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Engine.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Engine.MetricsAddr, Handler: mux}
		go func() {
			log.Info("Serving metrics", "addr", cfg.Engine.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err, "Metrics server failed")
			}
		}()
	}

	// SIGUSR1 dumps an engine report to stdout.
	reportCh := make(chan os.Signal, 1)
	signal.Notify(reportCh, syscall.SIGUSR1)
	go func() {
		for range reportCh {
			if err := eng.WriteReport(os.Stdout); err != nil {
				log.Error(err, "Writing report")
			}
		}
	}()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	<-ctx.Done()
	log.Info("Shutting down")

	if metricsSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutCtx)
		shutCancel()
	}
	return eng.Stop()
}
