// Command letsplayd is the server's entrypoint: parse flags, load config,
// wire the dispatch core to a transport and a periodic task scheduler, and
// run until interrupted. Per spec.md §1, the CLI itself stays trivial —
// all interesting behavior lives in the internal packages it wires
// together.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/rustyguts/letsplay/internal/audit"
	"github.com/rustyguts/letsplay/internal/config"
	"github.com/rustyguts/letsplay/internal/dispatch"
	"github.com/rustyguts/letsplay/internal/schedule"
	"github.com/rustyguts/letsplay/internal/tlsutil"
	"github.com/rustyguts/letsplay/internal/transport"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP(S)/WebSocket listen address")
	configPath := flag.String("config", "", "path to the JSON configuration document (optional)")
	auditPath := flag.String("audit-db", "letsplay-audit.db", "path to the admin audit ledger (empty disables persistence)")
	devLogging := flag.Bool("dev", false, "use human-readable text logging instead of JSON")
	tlsEnable := flag.Bool("tls", false, "serve over a self-signed TLS certificate")
	certValidity := flag.Duration("cert-validity", 90*24*time.Hour, "self-signed TLS certificate validity")
	flag.Parse()

	log := newLogger(*devLogging)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	auditStore, err := audit.Open(*auditPath)
	if err != nil {
		log.Error("failed to open audit ledger", "err", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	srv := transport.New(nil, log)
	core := dispatch.New(cfg, srv, auditStore, log)
	srv.SetDispatcher(core)

	if *tlsEnable {
		host := ""
		if h, _, err := net.SplitHostPort(*addr); err == nil {
			host = h
		}
		tlsCfg, fingerprint, err := tlsutil.GenerateConfig(*certValidity, host)
		if err != nil {
			log.Error("failed to generate TLS certificate", "err", err)
			os.Exit(1)
		}
		srv.SetTLSConfig(tlsCfg)
		log.Info("TLS enabled", "fingerprint", fingerprint)
	}

	sched := schedule.New(log)
	sched.Add("video-diff-broadcast", time.Duration(cfg.SyncInterval), core.BroadcastFrames)
	sched.Add("disconnect-sweep", time.Second, func() {
		core.HeartbeatSweep(time.Duration(cfg.HeartbeatTimeout))
	})
	sched.Start()

	go core.Run()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Info("letsplayd listening", "addr", *addr)
	if err := srv.Run(ctx, *addr); err != nil {
		log.Error("server exited with error", "err", err)
	}

	log.Info("shutting down")
	core.Shutdown()
	sched.Stop()
}

func newLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
