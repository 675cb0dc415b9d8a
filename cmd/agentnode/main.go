package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/agentnode/pkg/controller"
	"github.com/cuemby/agentnode/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentnode",
	Short: "agentnode - a P2P AI agent node",
	Long: `agentnode runs a single node of a peer-to-peer agent network:
job execution over a pluggable LLM provider, a permissioned vector
filesystem, a sandboxed tool runner, and subscription-based folder
sharing between peers.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"agentnode version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("storage-path", envOr("NODE_STORAGE_PATH", "./agentnode-data"), "Data directory for node state")
	rootCmd.Flags().String("identity-name", envOr("GLOBAL_IDENTITY_NAME", "@@local.agentnode"), "This node's global identity name")
	rootCmd.Flags().String("listen-addr", "", "Address to listen on for peer connections (empty disables inbound listening)")
	rootCmd.Flags().String("relay-addr", envOr("PROXY_ADDR", ""), "Relay address to fall back to when a peer is unreachable directly")
	rootCmd.Flags().Int("tool-concurrency", 8, "Maximum concurrent tool subprocess runs")
	rootCmd.Flags().String("tool-bin-dir", envOr("AGENTNODE_TOOLS_BIN", "./tools"), "Directory tool binaries/scripts are resolved from")
	rootCmd.Flags().Duration("drain-timeout", 30*time.Second, "Maximum time to wait for in-flight jobs to settle on shutdown")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runServe boots one Controller and blocks until SIGINT/SIGTERM, then
// drains and shuts it down.
func runServe(cmd *cobra.Command, args []string) error {
	storagePath, _ := cmd.Flags().GetString("storage-path")
	identityName, _ := cmd.Flags().GetString("identity-name")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	relayAddr, _ := cmd.Flags().GetString("relay-addr")
	toolConcurrency, _ := cmd.Flags().GetInt("tool-concurrency")
	toolBinDir, _ := cmd.Flags().GetString("tool-bin-dir")
	drainTimeout, _ := cmd.Flags().GetDuration("drain-timeout")

	_, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate node signing key: %w", err)
	}

	fmt.Printf("Starting agentnode...\n")
	fmt.Printf("  Identity: %s\n", identityName)
	fmt.Printf("  Storage:  %s\n", storagePath)
	if listenAddr != "" {
		fmt.Printf("  Listen:   %s\n", listenAddr)
	} else {
		fmt.Printf("  Listen:   disabled (outbound + relay only)\n")
	}
	if relayAddr != "" {
		fmt.Printf("  Relay:    %s\n", relayAddr)
	}

	ctrl, err := controller.NewController(controller.Config{
		DataDir:         storagePath,
		LocalName:       identityName,
		SigningKey:      signingKey,
		ListenAddr:      listenAddr,
		RelayAddr:       relayAddr,
		ToolBinDir:      toolBinDir,
		ToolConcurrency: toolConcurrency,
		DrainTimeout:    drainTimeout,
		// Registry, Provider, and Embed are external collaborators
		// (concrete identity-registry client, LLM-provider HTTP
		// adapter, embedding model) wired by the operator's deployment,
		// not constructed here.
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}
	fmt.Println("✓ agentnode is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout+5*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}
