// Command koan-loop runs the agent loop: the supervisor that schedules
// worker invocations against a project roster and a missions file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaakkos/koanctl/internal/config"
	"github.com/jaakkos/koanctl/internal/loop"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "koan-loop",
		Short: "Run the koan agent loop",
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
		return fmt.Errorf("koan-loop: %w", err)
	}

	l, err := loop.New(cfg)
	if err != nil {
		return fmt.Errorf("koan-loop: %w", err)
	}
	defer l.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(ctx, cancel, l)

	code := l.Run(ctx)
	os.Exit(code)
	return nil
}

// installSignalHandler wires SIGTERM to an immediate cooperative cancel and
// SIGINT to the loop's double-tap abort discipline: a single Ctrl-C during a
// protected phase only warns, a second within the abort window cancels.
func installSignalHandler(ctx context.Context, cancel context.CancelFunc, l *loop.Loop) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sig:
				if s == syscall.SIGTERM {
					cancel()
					return
				}
				abort, warning := l.WorkerState.OnInterrupt()
				if warning != "" {
					fmt.Fprintln(os.Stderr, warning)
				}
				if abort {
					cancel()
					return
				}
			}
		}
	}()
}
