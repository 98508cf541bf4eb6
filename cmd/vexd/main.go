// Command vexd is an example server binary: it loads a listener
// configuration from a TOML file, accepts connections, registers every
// bound session with a registry.Manager, and reports aggregate metrics
// on a fixed interval until SIGINT/SIGTERM.
package main

import (
	"context"
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
	"github.com/majiddarvishan/vex/metrics"
	vexnet "github.com/majiddarvishan/vex/net"
	"github.com/majiddarvishan/vex/registry"
	"github.com/majiddarvishan/vex/session"
)

func main() {
	configPath := flag.String("config", "vexd.toml", "path to the server TOML config")
	systemID := flag.String("system-id", "vexd", "system_id reported in bind_resp")
	flag.Parse()

	logger := logging.New("vexd")

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatalf("vexd: failed to load config: %v", err)
	}

	mgr := registry.New()
	srv := vexnet.NewServer(cfg, bindHandler(mgr, logger, *systemID), logging.SessionEvents(logger))

	if err := srv.Start(); err != nil {
		log.Fatalf("vexd: failed to start: %v", err)
	}
	logger.Info().Str("address", cfg.Address).Msg("listening")

	pollerCtx, stopPoller := context.WithCancel(context.Background())
	poller := metrics.NewPoller(mgr, metricsSink{logger}, 10*time.Second)
	go poller.Run(pollerCtx)

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
	logger.Info().Msg("shutdown signal received")

	stopPoller()
	srv.Stop()
	mgr.CloseAll()
	logger.Info().Msg("shutdown complete")
}

// bindHandler accepts every bind whose peer sends a non-empty
// system_id, registering the resulting session so it shows up in
// aggregate metrics and gets torn down by mgr.CloseAll on shutdown.
func bindHandler(mgr *registry.Manager, logger zerolog.Logger, systemID string) vexnet.ServerBindHandler {
	return func(req frame.BindRequest, s *session.Session) (string, bool) {
		if req.SystemID == "" {
			logger.Warn().Msg("rejecting bind with empty system_id")
			return systemID, false
		}
		id := mgr.Add(s, func(*session.Session, *string) {
			logger.Info().Str("peer_system_id", req.SystemID).Msg("session closed")
		})
		logger.Info().
			Str("peer_system_id", req.SystemID).
			Uint64("registry_id", uint64(id)).
			Msg("session bound")
		return systemID, true
	}
}

type metricsSink struct{ log zerolog.Logger }

func (s metricsSink) ReportSession(sample metrics.SessionSample) {
	s.log.Debug().
		Str("session_id", sample.SessionID).
		Uint64("bytes_sent", sample.BytesSent).
		Uint64("bytes_received", sample.BytesReceived).
		Msg("session metrics")
}

func (s metricsSink) ReportRegistry(sample metrics.RegistrySample) {
	s.log.Info().
		Int("active_sessions", sample.ActiveSessions).
		Int("open_sessions", sample.OpenSessions).
		Int("closed_sessions", sample.ClosedSessions).
		Uint64("total_bytes_sent", sample.TotalBytesSent).
		Uint64("total_bytes_received", sample.TotalBytesReceived).
		Uint64("total_errors", sample.TotalErrors).
		Msg("registry metrics")
}
