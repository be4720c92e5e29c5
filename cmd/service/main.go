// Command service runs one Service (plus its RPC listener) for a
// single job type: a worker pool, the idle-keep-alive reaper, and the
// Gateway adapter a Dispatcher calls into. Bootstrap follows flags
// with environment overrides, a slog.Default() logger, graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"

	"github.com/smi-gateway/smi/internal/config"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/rpcwire"
	"github.com/smi-gateway/smi/internal/service"
	"github.com/smi-gateway/smi/internal/version"
	"github.com/smi-gateway/smi/internal/worker"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "service <job-type>",
		Short:   "Run the worker pool and RPC listener for one job type",
		Args:    cobra.ExactArgs(1),
		Version: version.Version,
		RunE:    runService,
	}
	rootCmd.Flags().String("addr", ":0", "RPC listen address (host:port)")
	rootCmd.Flags().String("config", "", "path to the worker catalog JSON file (overrides SMI_CONFIG_PATH)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var jobTypesByName = map[string]jobtype.Type{
	"image": jobtype.ImageGen,
	"llm":   jobtype.LLMGen,
	"audio": jobtype.AudioGen,
	"video": jobtype.VideoGen,
}

func runService(cmd *cobra.Command, args []string) error {
	jt, ok := jobTypesByName[args[0]]
	if !ok {
		return fmt.Errorf("unknown job type %q (want one of image, llm, audio, video)", args[0])
	}

	addr, _ := cmd.Flags().GetString("addr")
	catalogPath, _ := cmd.Flags().GetString("config")

	cfg := config.Load()
	if catalogPath == "" {
		catalogPath = cfg.ConfigPath
	}

	log := slog.Default()

	catalog, err := config.LoadCatalog(catalogPath)
	if err != nil {
		return fmt.Errorf("load worker catalog: %w", err)
	}

	svc := service.New(jt, worker.DefaultRegistry(), catalog, log)
	svc.Start()
	defer svc.Stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()

	srv := rpc.NewServer()
	if err := srv.RegisterName("Gateway", service.NewGateway(svc)); err != nil {
		return fmt.Errorf("register RPC gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("service listening", "job_type", jt, "addr", ln.Addr().String())
		if err := rpcwire.Serve(ln, srv); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("rpc serve error: %w", err)
	case <-ctx.Done():
		log.Info("shutting down service", "job_type", jt)
	}
	return nil
}
