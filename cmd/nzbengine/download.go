package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datallboy/gonzb/internal/config"
	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/events"
	"github.com/datallboy/gonzb/internal/nzb"
)

var (
	outDir      string
	password    string
	autoExtract bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [nzb files...]",
	Short: "Download one or more .nzb files and block until they finish",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "override download.out_dir from config")
	downloadCmd.Flags().StringVarP(&password, "password", "p", "", "archive password, if any")
	downloadCmd.Flags().BoolVar(&autoExtract, "extract", false, "extract completed archives when done")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	dir := outDir
	if dir == "" {
		dir = cfg.Download.OutDir
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n[!] interrupt received, shutting down gracefully...")
		cancel()
	}()

	parser := nzb.NewParser()
	preparer := nzb.NewPreparer(dir, password)

	for _, path := range args {
		n, err := parser.ParseFile(path)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}

		files, err := preparer.Prepare(n)
		if err != nil {
			return fmt.Errorf("preparing %s: %w", path, err)
		}

		job := domain.NewDownloadJob(path, path, path, dir, autoExtract)
		job.Password = password
		job.Files = files
		job.TotalBytes = uint64(job.TotalSize())

		unsubscribe := eng.bus.Subscribe(progressPrinter(job.ID))
		err = eng.orch.Run(ctx, job)
		unsubscribe()
		fmt.Println()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("download of %s cancelled", path)
			}
			return fmt.Errorf("download of %s failed: %w", path, err)
		}
	}

	return nil
}

// progressPrinter renders a teacher-style "[====>    ] 42.0%" bar to stdout
// for the given job, ignoring events for any other job sharing the bus.
func progressPrinter(jobID string) events.Subscriber {
	start := time.Now()
	return func(ev events.Event) {
		if ev.JobID != jobID {
			return
		}
		if ev.Kind != events.KindProgress && ev.Kind != events.KindCompleted {
			return
		}

		total := ev.TotalBytes
		if total == 0 {
			return
		}
		current := ev.BytesWritten
		percent := float64(current) / float64(total) * 100

		const barWidth = 20
		completed := int(percent / 100 * barWidth)
		if completed > barWidth {
			completed = barWidth
		}
		bar := strings.Repeat("=", completed)
		if completed < barWidth {
			bar += ">" + strings.Repeat(" ", barWidth-completed-1)
		}

		elapsed := time.Since(start).Truncate(time.Second)
		fmt.Printf("\r[%s] %5.1f%% | %s | %d/%d MB      ", bar, percent, elapsed, current/1024/1024, total/1024/1024)
	}
}
