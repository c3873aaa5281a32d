// Command koan-bridge runs the messaging bridge: the front-end process
// that polls the chat API and translates messages into mission insertions,
// command effects, or chat replies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaakkos/koanctl/internal/bridge"
	"github.com/jaakkos/koanctl/internal/config"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "koan-bridge",
		Short: "Run the koan messaging bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "path to the koan YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("koan-bridge: %w", err)
	}

	instanceDir := filepath.Join(cfg.Root, cfg.Instance)
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return fmt.Errorf("koan-bridge: instance dir: %w", err)
	}

	b := bridge.New(cfg, instanceDir)
	lock, err := b.Startup()
	if err != nil {
		return fmt.Errorf("koan-bridge: %w", err)
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	return b.Run(ctx)
}
