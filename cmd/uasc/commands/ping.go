package commands

import (
	"bytes"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/opd-ai/uasc"
)

// ping <address>: open a secure channel and echo a payload through it.
func pingCmd() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "ping <address>",
		Short: "Open a secure channel and echo a payload through it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := channelConfig()
			if err != nil {
				return err
			}
			if cfg.EndpointURL == "" {
				cfg.EndpointURL = "opc.tcp://" + args[0]
			}

			conn, err := net.Dial("tcp", args[0])
			if err != nil {
				return err
			}
			ch, err := uasc.NewClient(conn, cfg)
			if err != nil {
				conn.Close()
				return err
			}
			if err := ch.Open(); err != nil {
				return err
			}
			defer ch.Close()

			id, err := ch.Send([]byte(payload))
			if err != nil {
				return err
			}
			msg, err := ch.Receive()
			if err != nil {
				return err
			}
			if msg.RequestID != id || !bytes.Equal(msg.Body, []byte(payload)) {
				return fmt.Errorf("echo mismatch: request %d answered with %d (%d bytes)",
					id, msg.RequestID, len(msg.Body))
			}
			fmt.Printf("echoed %d bytes over channel %d\n", len(msg.Body), ch.ChannelID())
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "ping", "payload to echo")
	return cmd
}
