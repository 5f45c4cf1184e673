// Package serve runs the datagram ingestion server.
package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/foodnet-go/internal/buildinfo"
	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/datastore"
	"github.com/tphakala/foodnet-go/internal/detector"
	"github.com/tphakala/foodnet-go/internal/httpserver"
	"github.com/tphakala/foodnet-go/internal/imagestore"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/notification"
	"github.com/tphakala/foodnet-go/internal/observability"
	"github.com/tphakala/foodnet-go/internal/pipeline"
	"github.com/tphakala/foodnet-go/internal/retrain"
	"github.com/tphakala/foodnet-go/internal/udpserver"
)

const retrainStopTimeout = 30 * time.Second

// Command creates the serve command.
func Command(build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the UDP ingestion server",
		Long:  "Receive images and label corrections over UDP, run inference, keep the record store and trigger retraining.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), conf.GetSettings(), build)
		},
	}

	setupFlags(cmd)

	return cmd
}

func setupFlags(cmd *cobra.Command) {
	cmd.Flags().String("address", "", "UDP listen address")
	cmd.Flags().IntP("port", "p", 0, "UDP listen port")
	cmd.Flags().Int("workers", 0, "Number of request workers")
	cmd.Flags().String("model", "", "Path to the TFLite model")
	cmd.Flags().String("labels", "", "Path to the labels file, empty uses the category registry")
	cmd.Flags().Float64P("threshold", "t", 0, "Confidence threshold for predictions")
	cmd.Flags().String("db", "", "Path to the SQLite database")
	cmd.Flags().String("imagedir", "", "Directory for received images")
	cmd.Flags().Bool("retrain", false, "Enable the retraining trigger")
	cmd.Flags().Bool("http", false, "Enable the HTTP admin endpoint")
	cmd.Flags().String("listen", "", "HTTP admin listen address")
}

func run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	log := logger.Global().Module("serve")

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	db, err := datastore.Open(&settings.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := datastore.Close(db); err != nil {
			log.Warn("failed to close database", logger.Error(err))
		}
	}()

	store, err := datastore.New(db)
	if err != nil {
		return err
	}

	engine, err := detector.New(&settings.Model, store)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()
	if settings.Model.LabelPath == "" {
		checkLabels(ctx, store, log)
	}

	images, err := imagestore.New(settings.Storage.ImageDir)
	if err != nil {
		return err
	}
	defer func() { _ = images.Close() }()

	deps := pipeline.Dependencies{
		Store:          store,
		Detector:       engine,
		Images:         images,
		Metrics:        m.Pipeline,
		RequestTimeout: settings.Server.RequestTimeout,
	}
	web := httpserver.Dependencies{
		Store:     store,
		Metrics:   m.Handler(),
		ImageDir:  images.Dir(),
		BuildInfo: build,
	}

	if settings.Retrain.Enabled {
		trigger, err := newTrigger(store, &settings.Retrain, m)
		if err != nil {
			return err
		}
		trigger.Start(ctx)
		defer func() {
			if err := trigger.Stop(retrainStopTimeout); err != nil {
				log.Warn("retrain worker did not stop", logger.Error(err))
			}
		}()
		deps.Retrain = trigger
		web.Retrain = trigger
	}

	svc, err := pipeline.New(deps)
	if err != nil {
		return err
	}

	udp, err := udpserver.New(&settings.Server, svc, m.Datagram)
	if err != nil {
		return err
	}

	var admin *httpserver.Server
	if settings.WebServer.Enabled {
		admin, err = httpserver.New(&settings.WebServer, web)
		if err != nil {
			_ = udp.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return udp.Run(gctx)
	})
	if admin != nil {
		g.Go(func() error {
			return admin.Run(gctx)
		})
	}

	log.Info("foodnet server started",
		logger.String("version", build.GetVersion()),
		logger.String("udp", udp.Addr().String()),
		logger.Bool("retrain", settings.Retrain.Enabled),
		logger.Bool("http", settings.WebServer.Enabled))

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	log.Info("foodnet server stopped")
	return nil
}

// checkLabels warns when src has no labels, since every inference fails
// until categories are imported.
func checkLabels(ctx context.Context, src detector.LabelSource, log logger.Logger) bool {
	labels, err := src.Labels(ctx)
	if err != nil {
		log.Warn("failed to read labels from category registry", logger.Error(err))
		return false
	}
	if len(labels) == 0 {
		log.Warn("no label file configured and category registry is empty, inference will fail until categories are imported")
		return false
	}
	return true
}

func newTrigger(store *datastore.Store, settings *conf.RetrainSettings, m *observability.Metrics) (*retrain.Trigger, error) {
	notifier, err := notification.NewFromSettings(&settings.Notify)
	if err != nil {
		return nil, err
	}

	return retrain.NewTrigger(retrain.NewCommandAction(store, settings), retrain.Options{
		QueueSize: settings.QueueSize,
		History:   settings.History,
		Timeout:   settings.Timeout,
		Metrics:   m.Retrain,
		OnFinish:  notifier.JobFinished,
	})
}
