// Command meshmond runs the PulseWave mesh daemon: it loads the node's
// configured networks, brings up a replicated store and signed
// transport for each, and serves peer streams until signaled to stop.
// Grounded on the teacher's cmd/ployzd/main.go.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/rippleFCL/meshmon/internal/buildinfo"
	"github.com/rippleFCL/meshmon/internal/logging"
)

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dataRoot string
	var nodeCfgPath string
	var listenAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:     "meshmond",
		Short:   "PulseWave mesh daemon",
		Version: buildinfo.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, dataRoot, nodeCfgPath, listenAddr)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&dataRoot, "data-root", defaultDataRoot(), "Directory holding per-network keys and resolved config")
	cmd.Flags().StringVar(&nodeCfgPath, "node-cfg", "nodeconf.yml", "Path to this node's nodeconf.yml")
	cmd.Flags().StringVar(&listenAddr, "listen", ":7400", "Address to accept peer transport streams on")
	return cmd
}
