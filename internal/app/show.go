package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/output"
	"github.com/blackwell-systems/npmdash/internal/registry"
)

const fetchingMessage = "Fetching download counts"

var showPeriod string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print download counts once",
	Long: `Fetch the download count of every tracked package for one period and
print them as a table.

All packages are fetched in parallel. If any request fails, no counts are
shown, the error is printed and the command exits non-zero.`,
	Example: `  # Counts for the last 7 days
  npmdash show

  # Counts for the last 12 months
  npmdash show --period last-year

  # Against a mirror
  npmdash show --registry http://localhost:4873`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showPeriod, "period", "", "period: last-day, last-week, last-month or last-year (default from config)")
}

func runShow(cmd *cobra.Command, args []string) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	period, err := resolvePeriod(showPeriod, cfg)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	spinner := output.NewSpinner(fetchingMessage).WithElapsed()
	spinner.SetWriter(cmd.ErrOrStderr())

	fetcher := progressFetcher(newRegistryClient(cfg, log), len(cfg.Packages), func(done, total int) {
		spinner.UpdateMessage(fmt.Sprintf("%s (%d/%d)", fetchingMessage, done, total))
	})
	ctrl := newController(cfg, fetcher, period, log)
	defer ctrl.Close()

	spinner.Start()

	if err := ctrl.Start(); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start fetch: %w", err)
	}
	ctrl.Wait()
	spinner.Stop()

	snap := ctrl.Snapshot()
	fmt.Fprint(cmd.OutOrStdout(), output.RenderView(ctrl.Packages(), snap, time.Now()))

	if snap.Status == dashboard.StatusError {
		return errors.New(snap.Error)
	}
	return nil
}

// progressFetcher wraps f and calls report after every successful request
// with the number of packages fetched so far.
func progressFetcher(f dashboard.Fetcher, total int, report func(done, total int)) dashboard.Fetcher {
	var done atomic.Int64
	return dashboard.FetcherFunc(func(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error) {
		p, err := f.PointDownloads(ctx, period, name)
		if err == nil {
			report(int(done.Add(1)), total)
		}
		return p, err
	})
}
