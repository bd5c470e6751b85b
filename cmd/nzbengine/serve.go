package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datallboy/gonzb/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue manager as a long-lived process",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n[!] shutdown requested, draining active job...")
		eng.queue.Stop()
		cancel()
	}()

	eng.log.Info("nzbengine serve starting, %d provider(s) configured", len(cfg.Servers))
	eng.queue.Start(ctx)
	eng.log.Info("nzbengine serve stopped")

	return nil
}
