package main

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rippleFCL/meshmon/config"
	"github.com/rippleFCL/meshmon/pulsewave/crypto"
)

func keysCmd(dataRoot *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect persisted node key material",
	}
	cmd.AddCommand(keysFingerprintCmd(dataRoot))
	return cmd
}

func keysFingerprintCmd(dataRoot *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <network-dir> <node-id>",
		Short: "Print a node's public key fingerprint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			networkDir, nodeID := args[0], args[1]

			root, err := config.LoadNetworkRootConfig(filepath.Join(*dataRoot, networkDir, "config.yml"))
			if err != nil {
				return err
			}

			verifier, err := crypto.LoadVerifier(filepath.Join(*dataRoot, "keys", root.NetworkID), nodeID)
			if err != nil {
				return fmt.Errorf("no persisted public key for %q on network %q: %w", nodeID, root.NetworkID, err)
			}

			sum := sha256.Sum256(verifier.PublicKey())
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", nodeID, base64.RawStdEncoding.EncodeToString(sum[:]))
			return nil
		},
	}
}
