// Command gateway runs the API Gateway: HTTP ingestion, the broker-
// backed Job Managers, the Dispatcher, and the scheduled Object Store
// pruner. Bootstrap follows an env-driven config, component wiring,
// an http.Server with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smi-gateway/smi/internal/api"
	"github.com/smi-gateway/smi/internal/broker"
	"github.com/smi-gateway/smi/internal/config"
	"github.com/smi-gateway/smi/internal/dispatcher"
	"github.com/smi-gateway/smi/internal/jobmanager"
	"github.com/smi-gateway/smi/internal/jobstore"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/objectstore"
	"github.com/smi-gateway/smi/internal/scheduler"
	"github.com/smi-gateway/smi/internal/service"
	"github.com/smi-gateway/smi/internal/version"
	"github.com/smi-gateway/smi/internal/worker"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the API Gateway",
		Version: version.Version,
		RunE:    runGateway,
	}
	rootCmd.Flags().String("addr", ":8080", "HTTP listen address")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var routableTypes = []jobtype.Type{jobtype.ImageGen, jobtype.LLMGen, jobtype.AudioGen, jobtype.VideoGen}

func runGateway(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	log := slog.Default()
	cfg := config.Load()

	catalog, err := config.LoadCatalog(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load worker catalog: %w", err)
	}

	store, err := newObjectStore(cfg, log)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	defer store.Close()

	addrs := make(map[jobtype.Type]string, len(routableTypes))
	for _, jt := range routableTypes {
		addrs[jt] = cfg.ServiceAddr[string(jt)]
	}
	d := dispatcher.New(addrs)
	defer d.Close()

	managers := make(map[jobtype.Type]*jobmanager.Manager, len(routableTypes))
	for _, jt := range routableTypes {
		b := newBroker(cfg, log)
		s := newJobStore(cfg, log)
		m := jobmanager.New(jt, b, s, d, log)
		if err := m.Start(); err != nil {
			return fmt.Errorf("start job manager for %s: %w", jt, err)
		}
		defer m.Stop()
		managers[jt] = m
	}

	pruneJobs := make([]scheduler.PruneJob, 0, len(routableTypes))
	for _, jt := range routableTypes {
		pruneJobs = append(pruneJobs, scheduler.PruneJob{
			JobType:   jt,
			Retention: time.Duration(cfg.StorageTTLDays) * 24 * time.Hour,
			Spec:      "0 3 * * *",
		})
	}
	sched, err := scheduler.New(store, pruneJobs, log)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	schedCtx, schedCancel := context.WithCancel(context.Background())
	sched.Start(schedCtx)
	defer func() { schedCancel(); sched.Stop() }()

	// The Streaming Bridge needs a live Worker reference, not an RPC
	// round trip, so the audio Service's worker pool also runs
	// in-process here for the WebSocket endpoint; non-streaming audio
	// jobs still flow through the separate "service audio" process via
	// the Dispatcher above.
	audioSvc := service.New(jobtype.AudioGen, worker.DefaultRegistry(), catalog, log)
	audioSvc.Start()
	defer audioSvc.Stop()
	streamSvc := map[jobtype.Type]*service.Service{jobtype.AudioGen: audioSvc}

	gw := api.New(cfg, catalog, managers, streamSvc, d, store, log)

	srv := &http.Server{Addr: addr, Handler: gw}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("shutting down gateway")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Warn("shutdown error", "error", err)
		}
	}
	return nil
}

func newBroker(cfg *config.Config, log *slog.Logger) broker.Broker {
	if cfg.BrokerHost == "" {
		return broker.NewMemoryBroker()
	}
	addr := fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort)
	return broker.NewRedisBroker(addr, log)
}

func newJobStore(cfg *config.Config, log *slog.Logger) jobstore.Store {
	if cfg.CacheHost == "" {
		return jobstore.NewMemoryStore()
	}
	addr := fmt.Sprintf("%s:%d", cfg.CacheHost, cfg.CachePort)
	return jobstore.NewRedisStore(addr, log)
}

func newObjectStore(cfg *config.Config, log *slog.Logger) (objectstore.Store, error) {
	if cfg.StorageEndpoint == "" {
		return objectstore.NewFilesystemStore(cfg.TempDir, "http://"+cfg.RootDomain+"/objects", log)
	}
	return objectstore.NewS3Store(context.Background(), objectstore.S3Config{
		Endpoint:        cfg.StorageEndpoint,
		AccessKeyID:     cfg.StorageAccessKey,
		SecretAccessKey: cfg.StorageSecretKey,
		Secure:          cfg.StorageSecure,
	}, log)
}
