package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/output"
	"github.com/blackwell-systems/npmdash/internal/watcher"
)

var (
	watchPeriod   string
	watchInterval time.Duration

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Live terminal view of download counts",
		Long: `Show download counts in the terminal and redraw whenever they change.

Commands (type and press Enter):
  r      refresh the current period
  1-4    select a period (1 = last day ... 4 = last 12 months)
  q      quit

A period change or refresh while a fetch is running cancels it; only the
latest request is ever shown. With --interval the counts are refreshed
automatically.`,
		Example: `  # Live view (Ctrl+C or q to stop)
  npmdash watch

  # Refresh every 10 minutes
  npmdash watch --interval 10m

  # Start on the last 30 days
  npmdash watch --period last-month`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().StringVar(&watchPeriod, "period", "", "initial period (default from config)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "auto-refresh interval, e.g. 5m (0 disables)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval < 0 {
		return fmt.Errorf("invalid interval: %v (must not be negative)", watchInterval)
	}

	path, err := getConfigPath()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	period, err := resolvePeriod(watchPeriod, cfg)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := newController(cfg, newRegistryClient(cfg, log), period, log)
	defer ctrl.Close()

	return runLiveView(ctx, ctrl, cmd.InOrStdin(), cmd.OutOrStdout(), watchInterval, log)
}

// runLiveView starts ctrl and redraws out on every state change until ctx
// ends, the controller closes or the user quits.
func runLiveView(ctx context.Context, ctrl *dashboard.Controller, in io.Reader, out io.Writer, interval time.Duration, log *slog.Logger) error {
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if interval > 0 {
		w, err := watcher.New(ctrl, interval, log)
		if err != nil {
			return fmt.Errorf("failed to create refresher: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start refresher: %w", err)
		}
		defer w.Stop()
	}

	done := make(chan struct{})
	defer close(done)
	commands := readCommands(in, done)

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("failed to start fetch: %w", err)
	}

	redraw := func(note string) {
		output.ClearScreen(out)
		fmt.Fprint(out, output.RenderView(ctrl.Packages(), ctrl.Snapshot(), time.Now()))
		fmt.Fprintln(out)
		if note != "" {
			fmt.Fprintln(out, note)
		}
		fmt.Fprintf(out, "[r] refresh  [1-%d] period  [q] quit\n", len(config.Periods()))
	}
	redraw("")

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			redraw("")
		case line, ok := <-commands:
			if !ok {
				// stdin closed; keep drawing until interrupted.
				commands = nil
				continue
			}
			quit, err := handleCommand(ctrl, line)
			if quit {
				return nil
			}
			if err != nil {
				redraw(err.Error())
			}
		}
	}
}

// readCommands delivers stdin lines until EOF or done.
func readCommands(in io.Reader, done <-chan struct{}) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return ch
}

// handleCommand applies one line of user input to ctrl.
func handleCommand(ctrl *dashboard.Controller, line string) (quit bool, err error) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	periods := config.Periods()

	switch cmd {
	case "":
		return false, nil
	case "q", "quit", "exit":
		return true, nil
	case "r", "refresh":
		return false, ctrl.Refresh()
	}

	if n, convErr := strconv.Atoi(cmd); convErr == nil {
		if n < 1 || n > len(periods) {
			return false, fmt.Errorf("no period %d (choose 1-%d)", n, len(periods))
		}
		return false, ctrl.SetPeriod(periods[n-1].Key)
	}
	if key, parseErr := config.ParsePeriod(cmd); parseErr == nil {
		return false, ctrl.SetPeriod(key)
	}
	return false, fmt.Errorf("unknown command %q (r, 1-%d, q)", line, len(periods))
}
