// Package predict runs local inference on an image file.
package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/datastore"
	"github.com/tphakala/foodnet-go/internal/detector"
)

// Command creates the predict command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [image]",
		Short: "Run inference on an image file",
		Long:  "Decode an image, run the model and print the predictions above the threshold as JSON. No record is created.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), conf.GetSettings(), args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("model", "", "Path to the TFLite model")
	cmd.Flags().String("labels", "", "Path to the labels file, empty uses the category registry")
	cmd.Flags().Float64P("threshold", "t", 0, "Confidence threshold for predictions")
	cmd.Flags().String("db", "", "Path to the SQLite database, used for labels when no labels file is set")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading image: %w", err)
	}

	img, err := detector.DecodeImage(data)
	if err != nil {
		return err
	}

	var labels detector.LabelSource
	if settings.Model.LabelPath == "" {
		db, err := datastore.Open(&settings.Storage)
		if err != nil {
			return err
		}
		defer func() { _ = datastore.Close(db) }()

		store, err := datastore.New(db)
		if err != nil {
			return err
		}
		labels = store
	}

	engine, err := detector.New(&settings.Model, labels)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	predictions, err := engine.Infer(ctx, img)
	if err != nil {
		return err
	}
	if predictions == nil {
		predictions = []detector.Prediction{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(predictions)
}
