package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
)

// checkOptions are the persistent flags of `secscan check`.
type checkOptions struct {
	Output       string
	Concurrency  int
	RateLimit    int
	Timeout      time.Duration
	AllowPrivate bool
	Progress     bool
}

var (
	checkOpts checkOptions
	sslPort   int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single analyzer against one or more targets",
}

var checkHeadersCmd = &cobra.Command{
	Use:   "headers <url> [url...]",
	Short: "Analyze security headers, disclosure headers and cookies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		return runModuleCheck(cmd.Context(), appCtx, checker.ModuleHeaders, args, resolveCheckOptions(cmd, appCtx), cmd.OutOrStdout())
	},
}

var checkSSLCmd = &cobra.Command{
	Use:   "ssl <host> [host...]",
	Short: "Inspect the TLS certificate and negotiated protocol of hosts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		targets := make([]string, 0, len(args))
		for _, host := range args {
			targets = append(targets, sslTarget(host, sslPort))
		}
		return runModuleCheck(cmd.Context(), appCtx, checker.ModuleSSL, targets, resolveCheckOptions(cmd, appCtx), cmd.OutOrStdout())
	},
}

var checkCORSCmd = &cobra.Command{
	Use:   "cors <url> [url...]",
	Short: "Send an adversarial CORS preflight and classify the policy",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		return runModuleCheck(cmd.Context(), appCtx, checker.ModuleCORS, args, resolveCheckOptions(cmd, appCtx), cmd.OutOrStdout())
	},
}

var checkJWTCmd = &cobra.Command{
	Use:   "jwt <token>",
	Short: "Decode a JWT without verifying it and lint its algorithm and lifetime",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJWTCheck(args[0], checkOpts.Output, time.Now(), cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.PersistentFlags().StringVarP(&checkOpts.Output, "output", "o", outputText, "output format: text, json or yaml")
	checkCmd.PersistentFlags().IntVarP(&checkOpts.Concurrency, "concurrency", "c", 1, "max concurrent targets")
	checkCmd.PersistentFlags().IntVarP(&checkOpts.RateLimit, "rate", "r", 1, "targets started per second (global)")
	checkCmd.PersistentFlags().DurationVar(&checkOpts.Timeout, "timeout", 10*time.Second, "per-target timeout")
	checkCmd.PersistentFlags().BoolVar(&checkOpts.AllowPrivate, "allow-private", false, "allow loopback and private network targets")
	checkCmd.PersistentFlags().BoolVar(&checkOpts.Progress, "progress", false, "show a progress line on stderr")

	checkSSLCmd.Flags().IntVarP(&sslPort, "port", "p", constants.DefaultTLSPort, "TLS port")

	checkCmd.AddCommand(checkHeadersCmd, checkSSLCmd, checkCORSCmd, checkJWTCmd)
}

// resolveCheckOptions fills unset flags from configuration.
func resolveCheckOptions(cmd *cobra.Command, appCtx *AppContext) checkOptions {
	opts := checkOpts
	applyDurationDefault(cmd.Flags(), "timeout", appCtx.Config.Scanner.ScanDeadline, func(v time.Duration) {
		opts.Timeout = v
	})
	applyBoolDefault(cmd.Flags(), "allow-private", appCtx.Config.Scanner.AllowPrivateTargets, func(v bool) {
		opts.AllowPrivate = v
	})
	applyIntDefault(cmd.Flags(), "concurrency", appCtx.Config.Scanner.ModuleConcurrency, func(v int) {
		opts.Concurrency = v
	})
	return opts
}

// sslTarget turns a bare host (optionally host:port) into an https URL the
// TLS module can inspect. An explicit port in host wins over port.
func sslTarget(host string, port int) string {
	host = strings.TrimSpace(host)
	if strings.Contains(host, "://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return "https://" + host
	}
	bare := strings.Trim(host, "[]")
	if port <= 0 || port == constants.DefaultTLSPort {
		if strings.Contains(bare, ":") {
			return "https://[" + bare + "]"
		}
		return "https://" + bare
	}
	return "https://" + net.JoinHostPort(bare, strconv.Itoa(port))
}

// moduleFor picks the checker of the named module.
func moduleFor(modules scanapp.Modules, name string) (checker.Checker, error) {
	switch name {
	case checker.ModuleHeaders:
		return modules.Headers, nil
	case checker.ModuleSSL:
		return modules.TLS, nil
	case checker.ModuleCORS:
		return modules.CORS, nil
	case checker.ModuleVulnerabilities:
		return modules.Vulnerabilities, nil
	default:
		return nil, fmt.Errorf("unknown module %q", name)
	}
}

// runModuleCheck validates every target, then runs one module over all of
// them with bounded concurrency.
func runModuleCheck(ctx context.Context, appCtx *AppContext, module string, targets []string, opts checkOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format, err := parseOutputFormat(opts.Output)
	if err != nil {
		return err
	}

	v := appCtx.validator(opts.AllowPrivate)
	for i, target := range targets {
		targets[i] = strings.TrimSpace(target)
		if err := v.ValidateURL(ctx, targets[i]); err != nil {
			return &InvalidTargetError{Target: target, Err: err}
		}
	}

	mod, err := moduleFor(scanapp.NewModules(appCtx.moduleSettings(opts.AllowPrivate), appCtx.logger()), module)
	if err != nil {
		return err
	}

	var progress *progressPrinter
	if opts.Progress && len(targets) > 1 {
		progress = newProgressPrinter(len(targets), module, os.Stderr)
		progress.Start()
	}

	runner := &checker.Runner{
		Concurrency: opts.Concurrency,
		RateLimit:   opts.RateLimit,
		Timeout:     opts.Timeout,
	}
	results := runner.RunChecks(ctx, targets, mod, func(target string, result checker.ModuleResult, duration float64) error {
		if progress != nil {
			progress.Increment(result.Success, duration)
		}
		return nil
	})
	if progress != nil {
		progress.Stop()
	}

	return renderModuleResults(out, format, results)
}

// runJWTCheck analyzes a token against now.
func runJWTCheck(token, output string, now time.Time, out io.Writer) error {
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return &InvalidTargetError{Target: token, Err: fmt.Errorf("token is required")}
	}
	return renderJWT(out, format, checker.AnalyzeJWT(token, now))
}
