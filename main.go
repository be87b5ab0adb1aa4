package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"statusbridge/global/config"
	"statusbridge/logger"
	"statusbridge/middleware"
	"statusbridge/module/status"
	"statusbridge/module/status/expiry"
	"statusbridge/module/status/service"
	"statusbridge/tools/clock"
	"statusbridge/tools/idem"
	"statusbridge/tools/safe"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file")
	logLevel := pflag.String("log-level", "", "override log.level")
	pflag.Parse()

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "statusbridge:", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	envFile, err := config.LoadDotenv()
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	logger.Init(log)
	defer logger.Sync()
	log.Info("config loaded", zap.String("env_file", envFile), zap.Any("config", cfg.Redacted()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clk := clock.Real()

	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeWith(log, "store", st.Close)

	sched := expiry.New(clk)
	defer sched.Stop()

	pubs, chat := publishers(cfg, clk, log)
	fanout := sinks(ctx, cfg, log)
	defer closeWith(log, "event sinks", fanout.Close)

	m := service.NewManager(service.Deps{
		Identities: st,
		Records:    st,
		Scheduler:  sched,
		Publishers: pubs,
		Events:     fanout,
		Clock:      clk,
		Logger:     log,
	}, service.Options{
		MaxExpiry:      cfg.Status.MaxExpiry,
		DefaultExpiry:  cfg.Status.DefaultExpiry,
		Location:       loc,
		MaxTextLen:     cfg.Status.MaxTextLen,
		PublishTimeout: cfg.Status.PublishTimeout,
	})
	if err := m.Recover(ctx); err != nil {
		return fmt.Errorf("recover expirations: %w", err)
	}

	workers := make(chan error, 1)
	runCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	safe.SafeGo("expiry-workers", func() {
		workers <- m.Run(runCtx, cfg.Expiry.Workers)
	})

	var feedback status.FeedbackSender
	if chat != nil {
		feedback = chat
	}
	bot := status.NewBot(m, feedback, log)
	h := status.NewHandler(bot, idem.NewMem(cfg.Webhook.DedupeTTL, clk), status.HandlerConfig{
		Token:     cfg.Zulip.BotAPIToken,
		DedupeTTL: cfg.Webhook.DedupeTTL,
		Timeout:   cfg.Webhook.Timeout,
	}, log)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	mids := middleware.NewManager(middleware.RequestID(), middleware.AccessLog(log), middleware.Recovery(log))
	r.Use(mids.Use())
	h.Register(r, middleware.RouteOpt{Middlewares: []gin.HandlerFunc{middleware.MaxBody(cfg.Webhook.MaxBody)}})

	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: r}
	serveErr := make(chan error, 1)
	safe.SafeGo("http-server", func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	})

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case err := <-workers:
		if err != nil {
			log.Error("expiry workers stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	cancelWorkers()
	sched.Stop()
	return nil
}

func closeWith(log *zap.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn("close failed", zap.String("what", what), zap.Error(err))
	}
}
