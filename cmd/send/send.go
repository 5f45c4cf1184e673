// Package send is a command line client for the UDP server.
package send

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/udpserver"
)

// Command creates the send command.
func Command() *cobra.Command {
	var correction string

	cmd := &cobra.Command{
		Use:   "send [image]",
		Short: "Send an image or a correction to a running server",
		Long: `Send an image in chunks to the UDP server and print its reply.
With --correction, send a correction message instead. The value is either
inline JSON or @path to read it from a file.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if correction != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.GetSettings()
			client := udpserver.NewClient(settings.Bridge.Target, settings.Server.ChunkSize, settings.Bridge.Timeout)
			if correction != "" {
				return sendCorrection(cmd.Context(), client, correction, cmd.OutOrStdout())
			}
			return sendImage(cmd.Context(), client, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("target", "", "UDP address of the server, e.g. 127.0.0.1:5005")
	cmd.Flags().StringVar(&correction, "correction", "", "Correction JSON, or @file")

	return cmd
}

func sendImage(ctx context.Context, client *udpserver.Client, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading image: %w", err)
	}

	reply, err := client.SendImage(ctx, data)
	if err != nil {
		return err
	}
	return printReply(out, reply)
}

func sendCorrection(ctx context.Context, client *udpserver.Client, value string, out io.Writer) error {
	payload := []byte(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("error reading correction: %w", err)
		}
		payload = data
	}

	if !json.Valid(payload) {
		return errors.NewStd("correction is not valid JSON")
	}

	reply, err := client.SendCorrection(ctx, json.RawMessage(payload))
	if err != nil {
		return err
	}
	return printReply(out, reply)
}

// printReply pretty prints JSON replies and writes anything else verbatim.
func printReply(out io.Writer, reply []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, reply, "", "  "); err != nil {
		_, err := fmt.Fprintln(out, string(reply))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
