package commands

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/uasc"
)

// serve: accept secure channels and echo every message back.
func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept secure channels and echo messages back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := channelConfig()
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			defer ln.Close()
			logrus.WithField("listen", ln.Addr().String()).Info("Echo server listening")

			for {
				conn, err := ln.Accept()
				if err != nil {
					return err
				}
				go serveConn(conn, cfg)
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:4840", "listen address")
	return cmd
}

func serveConn(conn net.Conn, cfg *uasc.Config) {
	ch, err := uasc.NewServer(conn, cfg)
	if err != nil {
		logrus.WithError(err).Error("Could not create channel")
		conn.Close()
		return
	}
	if err := ch.Accept(); err != nil {
		logrus.WithError(err).Warn("Handshake failed")
		return
	}
	defer ch.Close()

	for {
		msg, err := ch.Receive()
		if err != nil {
			var reqErr *uasc.RequestError
			if errors.As(err, &reqErr) {
				logrus.WithField("request_id", reqErr.RequestID).Warn("Request aborted by peer")
				continue
			}
			if !errors.Is(err, uasc.ErrChannelClosed) {
				logrus.WithError(err).Warn("Channel failed")
			}
			return
		}
		if err := ch.Respond(msg.RequestID, msg.Body); err != nil {
			var reqErr *uasc.RequestError
			if errors.As(err, &reqErr) {
				continue
			}
			logrus.WithError(err).Warn("Channel failed")
			return
		}
	}
}
