// Package relay runs the MQTT to UDP bridge.
package relay

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/observability"
	"github.com/tphakala/foodnet-go/internal/relay"
	"github.com/tphakala/foodnet-go/internal/udpserver"
)

// Command creates the relay command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Bridge MQTT topics to the UDP server",
		Long:  "Subscribe to the image and confirmed label topics, forward each message to the UDP server and publish its reply on the predictions topic.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), conf.GetSettings())
		},
	}

	cmd.Flags().String("broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	cmd.Flags().String("target", "", "UDP address of the ingestion server")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("relay")

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	forwarder := udpserver.NewClient(settings.Bridge.Target, settings.Server.ChunkSize, settings.Bridge.Timeout)

	client := relay.NewClient(&settings.Bridge, m.MQTT)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	bridge, err := relay.NewBridge(forwarder, client, settings.Bridge.Topics, m.MQTT)
	if err != nil {
		return err
	}

	log.Info("relay started",
		logger.String("broker", settings.Bridge.Broker),
		logger.String("target", settings.Bridge.Target))

	return bridge.Run(ctx, client.Messages())
}
