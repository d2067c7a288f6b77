package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/secscan/internal/application"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
)

const (
	defaultScansLimit = 50
	maxScansLimit     = 100
)

var (
	scansOutput string
	scansLimit  int
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Inspect and manage stored scan records",
	Long: `List, show and delete scan records kept by the configured store.

Requires storage.driver to be json or postgres.`,
}

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScansList(cmd.Context(), getAppContext(cmd), scansLimit, scansOutput, cmd.OutOrStdout())
	},
}

var scansShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored scan with its findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScansShow(cmd.Context(), getAppContext(cmd), args[0], scansOutput, cmd.OutOrStdout())
	},
}

var scansDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScansDelete(cmd.Context(), getAppContext(cmd), args[0], cmd.OutOrStdout())
	},
}

func init() {
	scansCmd.PersistentFlags().StringVarP(&scansOutput, "output", "o", outputText, "output format: text, json or yaml")
	scansListCmd.Flags().IntVarP(&scansLimit, "limit", "n", defaultScansLimit, "maximum records to list (max 100)")

	scansCmd.AddCommand(scansListCmd, scansShowCmd, scansDeleteCmd)
}

// openStore builds a container and fails fast when no store is configured.
func openStore(ctx context.Context, appCtx *AppContext) (*application.Container, error) {
	container, err := appCtx.newContainer(ctx, nil, false)
	if err != nil {
		return nil, err
	}
	if !container.Orchestrator.HasStore() {
		_ = container.Close()
		return nil, fmt.Errorf("storage.driver is %q: %w", appCtx.Config.Storage.Driver, sharedErrors.ErrStoreNotConfigured)
	}
	return container, nil
}

func clampScansLimit(limit int) int {
	if limit <= 0 {
		return defaultScansLimit
	}
	if limit > maxScansLimit {
		return maxScansLimit
	}
	return limit
}

func runScansList(ctx context.Context, appCtx *AppContext, limit int, output string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}
	container, err := openStore(ctx, appCtx)
	if err != nil {
		return err
	}
	defer container.Close()

	records, err := container.Orchestrator.ListScans(ctx, clampScansLimit(limit))
	if err != nil {
		return err
	}
	return renderRecords(out, format, records)
}

func runScansShow(ctx context.Context, appCtx *AppContext, id, output string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}
	container, err := openStore(ctx, appCtx)
	if err != nil {
		return err
	}
	defer container.Close()

	record, err := container.Orchestrator.GetScan(ctx, id)
	if err != nil {
		return err
	}
	return renderRecord(out, format, record)
}

func runScansDelete(ctx context.Context, appCtx *AppContext, id string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	container, err := openStore(ctx, appCtx)
	if err != nil {
		return err
	}
	defer container.Close()

	if err := container.Orchestrator.DeleteScan(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Deleted scan %s\n", colorSuccess("✓"), id)
	return nil
}
