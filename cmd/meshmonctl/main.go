// Command meshmonctl is a thin, read-only CLI over the configuration
// and key material a meshmond instance runs from. It does not talk to
// a running daemon over an RPC view API (spec.md's HTTP view surface
// is out of scope, §1); it inspects the same on-disk config and key
// files meshmond itself loads, mirroring the teacher's separate
// cmd/ployz CLI binary.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rippleFCL/meshmon/internal/buildinfo"
	"github.com/rippleFCL/meshmon/internal/logging"
)

func main() {
	if err := logging.Configure(logging.LevelWarn); err != nil {
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

	cmd := &cobra.Command{
		Use:     "meshmonctl",
		Short:   "Inspect PulseWave network configuration and keys",
		Version: buildinfo.Version,
	}
	cmd.PersistentFlags().StringVar(&dataRoot, "data-root", defaultDataRoot(), "Directory holding per-network keys and resolved config")
	cmd.AddCommand(nodesCmd(&dataRoot), keysCmd(&dataRoot))
	return cmd
}
