// Package dataset imports and exports the record store as data_info.csv.
package dataset

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/datastore"
)

// Command creates the dataset command and its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Import or export the image records as CSV",
	}

	cmd.PersistentFlags().String("db", "", "Path to the SQLite database")

	cmd.AddCommand(importCommand(), exportCommand())

	return cmd
}

func importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import [csv]",
		Short: "Load records from a data_info.csv file",
		Long:  "Load records keeping their img_id and category_id values. The import is all or nothing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *datastore.Store) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("error opening CSV: %w", err)
				}
				defer func() { _ = f.Close() }()

				n, err := store.ImportCSV(ctx, f)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d records from %s\n", n, args[0])
				return err
			})
		},
	}
}

func exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [csv]",
		Short: "Write all records to a data_info.csv file, - for stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *datastore.Store) error {
				if args[0] == "-" {
					return store.ExportCSV(ctx, cmd.OutOrStdout())
				}
				if err := store.ExportCSVFile(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.ErrOrStderr(), "exported records to %s\n", args[0])
				return err
			})
		},
	}
}

func withStore(ctx context.Context, fn func(context.Context, *datastore.Store) error) error {
	settings := conf.GetSettings()

	db, err := datastore.Open(&settings.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = datastore.Close(db) }()

	store, err := datastore.New(db)
	if err != nil {
		return err
	}
	return fn(ctx, store)
}
