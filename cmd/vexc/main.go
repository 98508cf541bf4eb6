// Command vexc is an example client binary: it loads a dial target and
// bind request from a TOML file, connects, and sends a periodic
// enquire_link once bound until SIGINT/SIGTERM.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/majiddarvishan/vex/config"
	"github.com/majiddarvishan/vex/frame"
	"github.com/majiddarvishan/vex/logging"
	vexnet "github.com/majiddarvishan/vex/net"
	"github.com/majiddarvishan/vex/session"
)

func main() {
	configPath := flag.String("config", "vexc.toml", "path to the client TOML config")
	flag.Parse()

	logger := logging.New("vexc")

	raw, sessionCfg, err := config.LoadClient(*configPath)
	if err != nil {
		log.Fatalf("vexc: failed to load config: %v", err)
	}
	inactivityTimeout, err := raw.InactivityTimeoutDuration()
	if err != nil {
		log.Fatalf("vexc: %v", err)
	}

	boundCh := make(chan *session.Session, 1)

	client := vexnet.NewClient(vexnet.ClientConfig{
		Address:              raw.Address,
		InactivityTimeout:    inactivityTimeout,
		BindRequest:          frame.BindRequest{SystemID: raw.SystemID},
		SessionConfig:        sessionCfg,
		DisableAutoReconnect: raw.DisableAutoReconnect,
	}, func(resp frame.BindResponse, s *session.Session) {
		logger.Info().Str("peer_system_id", resp.SystemID).Msg("bound")
		s.SetProtocolHandler(echoProtocolHandler{logger})
		s.SetErrorHandler(logging.NewErrorHandler(logger))
		s.SetCloseHandler(func(_ *session.Session, reason *string) {
			msg := "session closed"
			if reason != nil {
				msg = "session closed: " + *reason
			}
			logger.Warn().Msg(msg)
		})
		boundCh <- s
	}, logging.SessionEvents(logger))

	client.Start()

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	var bound *session.Session
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case s := <-boundCh:
			bound = s
		case <-ticker.C:
			if bound != nil && bound.IsOpen() {
				if _, err := bound.SendRequest(frame.EnquireLinkRequest{}); err != nil {
					logger.Warn().Err(err).Msg("enquire_link send failed")
				}
			}
		case <-signalCh:
			logger.Info().Msg("shutdown signal received")
			client.Stop()
			if bound != nil {
				bound.Unbind()
			}
			return
		}
	}
}

// echoProtocolHandler logs whatever the peer sends once bound; a real
// integration would decode the stream_req body and act on it.
type echoProtocolHandler struct {
	logger zerolog.Logger
}

func (h echoProtocolHandler) OnRequest(pdu frame.PDU, seq uint32) {
	h.logger.Debug().Uint32("seq", seq).Msg("request received")
}

func (h echoProtocolHandler) OnResponse(pdu frame.PDU, seq uint32, status frame.CommandStatus) {
	h.logger.Debug().Uint32("seq", seq).Str("status", status.String()).Msg("response received")
}
