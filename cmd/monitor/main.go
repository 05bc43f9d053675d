// Command monitor runs the autonomous trading execution monitor: the
// top-level supervisor described in SPEC_FULL.md. Flag parsing, logger
// bootstrap, component wiring and graceful shutdown are structured after
// Atlas's cmd/server/main.go setupLogger/wiring pattern and NitinKhare-
// trader's cmd/engine/main.go live-mode confirmation gate and
// signal.NotifyContext shutdown idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/execution-monitor/internal/agent"
	"github.com/atlas-desktop/execution-monitor/internal/broker"
	"github.com/atlas-desktop/execution-monitor/internal/clock"
	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/internal/defensive"
	"github.com/atlas-desktop/execution-monitor/internal/fallback"
	"github.com/atlas-desktop/execution-monitor/internal/monitor"
	"github.com/atlas-desktop/execution-monitor/internal/quote"
	"github.com/atlas-desktop/execution-monitor/internal/rotation"
	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/internal/statusapi"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the policy configuration document")
	stateDir := flag.String("state-dir", "./state", "directory for durable state and alert files")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	brokerName := flag.String("broker", "paper", "broker registry name")
	paper := flag.Bool("paper", true, "force the paper broker regardless of -broker")
	agentCmd := flag.String("agent-cmd", "", "path to the reasoning-agent executable (empty disables the agent port)")
	agentAuthEnv := flag.String("agent-auth-env", "", "name of the single environment variable forwarded to the agent process")
	statusAddr := flag.String("status-addr", ":8090", "bind address for the internal status/metrics surface (empty disables it)")
	exchangeTZ := flag.String("exchange-tz", "America/New_York", "exchange timezone")
	localTZ := flag.String("local-tz", "Local", "operator local timezone")
	flag.Parse()

	log := setupLogger(*logLevel)
	defer log.Sync()

	if *paper {
		*brokerName = "paper"
	}

	cl, err := clock.New(*exchangeTZ, *localTZ)
	if err != nil {
		log.Fatal("failed to load timezones", zap.Error(err))
	}

	cfgStore := config.New(*configPath, log)
	if _, err := cfgStore.Load(); err != nil {
		log.Fatal("initial config load failed", zap.Error(err))
	}

	st, err := state.New(*stateDir, log)
	if err != nil {
		log.Fatal("failed to open state store", zap.Error(err))
	}

	b, err := broker.New(*brokerName, nil)
	if err != nil {
		log.Fatal("failed to construct broker", zap.Error(err))
	}
	if paperBroker, ok := b.(*broker.Paper); ok {
		paperBroker.SetMaxShortPositions(cfgStore.Current().ShortSelling.MaxShortPositions)
	}

	q := quote.NewStub()

	var agentPort agent.Port
	var execAgent *agent.Exec
	fb := fallback.New(b, st, log)
	if *agentCmd != "" {
		execAgent = agent.NewExec(*agentCmd, *agentAuthEnv, ".", 10*time.Minute, 2, st, log)
		execAgent.OnExhausted = func(ctx context.Context) {
			cfg := cfgStore.Current()
			_ = fb.Run(ctx, cfg.FallbackRules, func(string) (float64, bool) { return 0, false })
		}
		agentPort = execAgent
	}

	defCtl := defensive.New(b, agentPort, nil, st, 0.10, log)
	rotCtl := rotation.New(agentPort, st, log)

	m := monitor.New(cl, cfgStore, st, b, q, agentPort, fb, defCtl, rotCtl, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *statusAddr != "" {
		reg := prometheus.NewRegistry()
		metrics := statusapi.NewMetrics(reg)
		srv := statusapi.New(st, defCtl, rotCtl, execAgent, metrics, reg, log)
		m.Metrics = metrics
		m.Status = srv
		httpSrv := &http.Server{Addr: *statusAddr, Handler: srv.Handler()}
		go func() {
			log.Info("status surface listening", zap.String("addr", *statusAddr))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("status surface stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("monitor starting", zap.String("config", *configPath), zap.String("broker", *brokerName))
	if err := m.Run(ctx); err != nil {
		log.Error("monitor loop exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("monitor shut down cleanly")
}

func setupLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
