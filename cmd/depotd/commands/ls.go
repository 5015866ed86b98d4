package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/depotfs/depot/internal/bytesize"
	"github.com/depotfs/depot/internal/cli/output"
	"github.com/depotfs/depot/pkg/config"
	"github.com/depotfs/depot/pkg/depot"
)

var lsOutput string

var lsCmd = &cobra.Command{
	Use:   "ls [store]",
	Short: "List the files held by a store",
	Long: `List the files held by a store, with their metadata.

Without an argument the default store is listed. The store's backend must
support listing; object stores enumerate their bucket prefix, which can be
slow on very large stores.

Examples:
  # List the default store
  depotd ls

  # List a named store as JSON
  depotd ls media --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().StringVarP(&lsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runLs(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(lsOutput)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reg, err := config.BuildRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build store registry: %w", err)
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	} else if name, err = reg.DefaultName(); err != nil {
		return err
	}

	store, err := reg.Get(name)
	if err != nil {
		return err
	}
	lister, ok := store.(depot.Lister)
	if !ok {
		return fmt.Errorf("store %q does not support listing", name)
	}

	ids, err := lister.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list store %q: %w", name, err)
	}

	infos := make([]depot.FileInfo, 0, len(ids))
	for _, id := range ids {
		f, err := store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read metadata for %s/%s: %w", name, id, err)
		}
		infos = append(infos, f.Info())
		_ = f.Close()
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, infos)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, infos)
	default:
		table := output.NewTableData("ID", "FILENAME", "CONTENT TYPE", "SIZE", "MODIFIED")
		for _, info := range infos {
			table.AddRow(
				info.FileID,
				info.Filename,
				info.ContentType,
				bytesize.ByteSize(info.ContentLength).String(),
				info.LastModified.Format(depot.TimeFormat),
			)
		}
		return output.PrintTable(os.Stdout, table)
	}
}
