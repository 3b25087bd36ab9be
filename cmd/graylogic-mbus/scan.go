package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-mbus/internal/bridges/mbus"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
	"github.com/nerrad567/gray-logic-mbus/internal/workpool"
)

// cliOwner owns scans started from the command line.
const cliOwner = "cli"

type scanOptions struct {
	timeout  time.Duration
	progress bool
}

// newScanCmd runs one scan in-process, without the database or HTTP
// server, and prints the final resource as JSON.
func newScanCmd() *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "Run one M-Bus scan locally and print the result",
		Long: `Reads a scan request ("-" for stdin), for example

  {"type":"MBusTcpIpAddressScanRequest","host":"10.0.0.5","first_address":1,"last_address":250}

runs it against the gateway and prints the finished resource as JSON.
Interrupting the command cancels the scan.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readRequest(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			log := logging.New(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"}, version)
			return runScan(cmd.Context(), data, opts, nil, cmd.OutOrStdout(), cmd.ErrOrStderr(), log)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "scan timeout (default from config defaults)")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "print progress to stderr")
	return cmd
}

func readRequest(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading request: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	return data, nil
}

// runScan drives one scan through a private registry and runner and
// writes the final snapshot to out. A scan that does not succeed is
// printed and then reported as an error.
//
// Parameters:
//   - ctx: Cancelling it cancels the scan
//   - data: JSON scan request
//   - opts: Timeout and progress output
//   - dialer: Gateway dialer; nil dials TCP
//   - out: Receives the final snapshot
//   - errOut: Receives progress lines
//   - log: Logger for the scanner
func runScan(ctx context.Context, data []byte, opts scanOptions, dialer mbus.Dialer,
	out, errOut io.Writer, log *logging.Logger) error {
	req, err := mbus.DecodeScanRequest(data)
	if err != nil {
		return err
	}

	cfg := config.Default()
	scanner := mbus.NewScanner(cfg.MBus, dialer)
	scanner.SetLogger(log)
	if err := scanner.Prepare(req); err != nil {
		return err
	}
	work, err := scanner.Work(req)
	if err != nil {
		return err
	}

	pool := workpool.New(1, 1)
	pool.SetLogger(log)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), poolStopTimeout)
		defer cancel()
		pool.Stop(stopCtx) //nolint:errcheck // best effort on exit
	}()

	// Events arrive under the resource lock; only hand them off here.
	finished := make(chan struct{}, 1)
	notifier := resource.NotifierFunc(func(e resource.Event) {
		switch e.Kind {
		case resource.EventProgress:
			if opts.progress {
				if snap, ok := e.Snapshot.(resource.Snapshot[mbus.ScanResult]); ok {
					fmt.Fprintln(errOut, progressLine(snap))
				}
			}
		case resource.EventFinished:
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})

	scans := resource.NewRegistry[mbus.ScanResult](cfg.Scan, notifier)
	scans.SetLogger(log)
	runner := resource.NewRunner[mbus.ScanResult](pool)
	runner.SetLogger(log)

	res, err := scans.Create(ctx, resource.CreateOptions{
		Type:    mbus.ResourceType,
		OwnerID: cliOwner,
		Timeout: opts.timeout,
	}, runner.Factory(work))
	if err != nil {
		return fmt.Errorf("starting scan: %w", err)
	}

	// The registry sweeper is not running here, so the deadline is
	// enforced directly.
	deadline := time.NewTimer(time.Until(res.TimeoutAt()))
	defer deadline.Stop()

	select {
	case <-finished:
	case <-ctx.Done():
		res.Cancel()
	case <-deadline.C:
		scans.Sweep(time.Now())
	}

	snap := res.Snapshot()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if snap.Status != resource.StatusSuccess {
		return fmt.Errorf("scan finished with status %s", snap.Status)
	}
	return nil
}

// progressLine renders one --progress line, e.g. "progress 3/10 (30%), 1 devices".
func progressLine(snap resource.Snapshot[mbus.ScanResult]) string {
	return fmt.Sprintf("progress %d/%d (%d%%), %d devices",
		snap.Progress.Position, snap.Progress.Maximum, snap.Progress.Percent(), len(snap.Result.Devices))
}
