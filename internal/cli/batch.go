package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/b2bflash/crawler/internal/app"
	"github.com/b2bflash/crawler/internal/batch"
	"github.com/b2bflash/crawler/internal/config"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	batchLimit     int
	batchWorkers   int
	batchFlushSize int
	batchInstances int
	batchStatuses  []string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one batch from the terminal with live progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Root())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		statuses := batchStatuses
		if len(statuses) == 0 {
			statuses = config.DefaultStatusFilter
		}
		p, err := a.StartBatch(ctx, batch.Options{
			WorkerCount:  batchWorkers,
			FlushSize:    batchFlushSize,
			Instances:    batchInstances,
			StatusFilter: statuses,
			Limit:        batchLimit,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Batch %s: %d companies\n", p.ID(), p.Total())
		bar := progressbar.NewOptions(p.Total(),
			progressbar.OptionSetDescription("Scraping"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("companies"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionSetPredictTime(true),
		)

		done := make(chan struct{})
		go func() { p.Wait(); close(done) }()

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ticker.C:
				bar.Set(p.StatusDoc().Processed)
			case <-ctx.Done():
				p.Cancel()
			case <-done:
				break loop
			}
		}

		doc := p.StatusDoc()
		bar.Set(doc.Processed)
		bar.Finish()
		fmt.Printf("\nStatus: %s  processed=%d success=%d errors=%d flushes=%d\n",
			doc.Status, doc.Processed, doc.SuccessCount, doc.ErrorCount, doc.FlushesDone)
		for category, n := range doc.ErrorBreakdown {
			fmt.Printf("  %-20s %d\n", category, n)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max companies to process (0 = all pending)")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", config.DefaultWorkerCount, "total workers across instances")
	batchCmd.Flags().IntVar(&batchFlushSize, "flush-size", config.DefaultFlushSize, "buffered chunk records per bulk insert")
	batchCmd.Flags().IntVar(&batchInstances, "instances", config.DefaultInstances, "parallel processing instances")
	batchCmd.Flags().StringSliceVar(&batchStatuses, "status", nil, "discovery status filter")
}
