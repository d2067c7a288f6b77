package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
)

// scanOptions are the flags of `secscan scan`.
type scanOptions struct {
	ScanType     string
	Output       string
	Timeout      time.Duration
	FailUnder    int
	AllowPrivate bool
}

var scanOpts scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Run a full or partial security scan against one URL",
	Long: `Scan a web target with the selected modules and print a scored report.

Scan types:
  full             headers, ssl (https only), vulnerabilities and cors
  headers          security header analysis only
  ssl              TLS certificate and protocol inspection (https only)
  vulnerabilities  SQL injection, reflected XSS and sensitive data probes

Exit status is 1 when the scan cannot run and 2 when --fail-under is set and
the score is below it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		applyDurationDefault(cmd.Flags(), "timeout", appCtx.Config.Scanner.ScanDeadline, func(v time.Duration) {
			scanOpts.Timeout = v
		})
		return runScan(cmd.Context(), appCtx, args[0], scanOpts, cmd.OutOrStdout())
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.ScanType, "type", "t", string(scan.TypeFull), "scan type: full, headers, ssl or vulnerabilities")
	scanCmd.Flags().StringVarP(&scanOpts.Output, "output", "o", outputText, "output format: text, json or yaml")
	scanCmd.Flags().DurationVar(&scanOpts.Timeout, "timeout", 60*time.Second, "overall scan deadline")
	scanCmd.Flags().IntVar(&scanOpts.FailUnder, "fail-under", 0, "exit with status 2 when the score is below this value (0 disables)")
	scanCmd.Flags().BoolVar(&scanOpts.AllowPrivate, "allow-private", false, "allow loopback and private network targets")
}

// runScan validates the target, runs the orchestrator and renders the result.
func runScan(ctx context.Context, appCtx *AppContext, target string, opts scanOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format, err := parseOutputFormat(opts.Output)
	if err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	scanType, err := appCtx.validator(opts.AllowPrivate).ValidateScanRequest(ctx, target, opts.ScanType)
	if err != nil {
		return &InvalidTargetError{Target: target, Err: err}
	}

	obs, err := setupObservability(ctx, appCtx.Config, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			appCtx.logger().Warn("failed to flush traces", zap.Error(err))
		}
	}()

	container, err := appCtx.newContainer(ctx, obs, opts.AllowPrivate)
	if err != nil {
		return err
	}
	defer container.Close()

	result, err := runWithDeadline(ctx, container.Orchestrator, target, scanType, opts.Timeout)
	if err != nil {
		return fmt.Errorf("scan of %s failed: %w", target, err)
	}
	if err := renderScanResult(out, format, result); err != nil {
		return err
	}

	if opts.FailUnder > 0 && result.SecurityScore < opts.FailUnder {
		return &ScoreThresholdError{Score: result.SecurityScore, Threshold: opts.FailUnder}
	}
	return nil
}

func runWithDeadline(ctx context.Context, orch *scanapp.Orchestrator, target string, scanType scan.Type, timeout time.Duration) (*scanapp.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return orch.RunScan(ctx, target, scanType)
}
