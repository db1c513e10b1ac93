package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mail-messenger/internal/config"
	"mail-messenger/internal/db"
	"mail-messenger/internal/dispatch"
	"mail-messenger/internal/observability"
	"mail-messenger/internal/providers/sendgrid"
	"mail-messenger/internal/providers/twilio"
	"mail-messenger/internal/queue"
	"mail-messenger/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		opts    config.Options
		rawMode string
	)

	flags := pflag.NewFlagSet("messenger", pflag.ContinueOnError)
	flags.StringVarP(&rawMode, "mode", "m", "", "report | notification (default: all)")
	flags.BoolVarP(&opts.Loop, "loop", "l", false, "run continuously (polls the queue)")
	flags.BoolVarP(&opts.Debug, "debug", "d", false, "enable debug output")
	flags.BoolVarP(&opts.Testing, "testing", "t", false, "dry run (no database changes, no live sends without overrides)")
	flags.BoolVarP(&opts.NoNotify, "no-notify", "n", false, "skip sending SMS or email")
	flags.StringVarP(&opts.EmailOverride, "email", "e", "", "override email recipient")
	flags.StringVarP(&opts.PhoneOverride, "phone", "p", "", "override SMS recipient (use 'twilio' for testing)")
	flags.StringVarP(&opts.JobID, "job-id", "j", "", "custom job identifier")
	flags.Float64VarP(&opts.Interval, "interval", "i", 1.0, "polling interval (seconds)")
	flags.StringVarP(&opts.LogDir, "log-dir", "L", "", "custom log directory")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		return err
	}
	if err := opts.Normalize(rawMode); err != nil {
		return err
	}

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	identity, err := worker.LocalIdentity(opts.Mode, opts.JobID)
	if err != nil {
		return fmt.Errorf("failed to determine worker identity: %w", err)
	}

	logger, err := observability.NewWorkerLogger(opts.LogDir, identity, env.LogLevel, opts.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Sync()

	hostname, err := os.Hostname()
	if err != nil {
		return err
	}
	safeToStart, err := worker.CheckSingleton(logger, hostname, identity)
	if err != nil {
		// Advisory only; the claim protocol still protects correctness.
		logger.Warn("singleton check failed", zap.Error(err))
	} else if !safeToStart {
		logger.Info("worker with this identifier already running, exiting",
			zap.String("identity", identity))
		return nil
	}

	params, err := config.LoadDBParams(env.Home, env.PGPassword)
	if err != nil {
		logger.Error("failed to load database parameters", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, params.DSN(), config.SendConcurrency())
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return err
	}
	defer func() { database.Close() }()

	metrics := observability.NewMetrics()
	if env.MetricsAddr != "" {
		serveErr := metrics.Serve(env.MetricsAddr)
		go func() {
			if err := <-serveErr; err != nil {
				logger.Error("metrics server failed", zap.String("addr", env.MetricsAddr), zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", env.MetricsAddr))
	}

	dispatcher := dispatch.New(dispatch.DispatcherParams{
		SMS:           twilio.New(env.TwilioAccountSID, env.TwilioAPIKeySID, env.TwilioAPIKeySecret),
		Email:         sendgrid.New(env.SendGridAPIKey),
		Logger:        logger,
		FromNumber:    env.TwilioPhoneNumber,
		FromEmail:     env.MailFromAddress,
		EmailOverride: opts.EmailOverride,
		PhoneOverride: opts.PhoneOverride,
		NoNotify:      opts.NoNotify,
		Testing:       opts.Testing,
	})

	store := queue.NewStore(database, logger, identity, opts.Mode, opts.Testing)
	reconnect := func(ctx context.Context) (worker.Store, error) {
		database.Close()
		fresh, err := db.Connect(ctx, params.DSN(), config.SendConcurrency())
		if err != nil {
			return nil, err
		}
		database = fresh
		return queue.NewStore(fresh, logger, identity, opts.Mode, opts.Testing), nil
	}

	w := worker.New(worker.Params{
		Options:    opts,
		Identity:   identity,
		Logger:     logger,
		Metrics:    metrics,
		Store:      store,
		Dispatcher: dispatcher,
		Reconnect:  reconnect,
	})

	logger.Info("worker starting",
		zap.String("identity", identity),
		zap.String("mode", string(opts.Mode)),
		zap.Bool("loop", opts.Loop),
		zap.Bool("testing", opts.Testing),
		zap.Bool("no_notify", opts.NoNotify))

	if err := w.Run(ctx); err != nil {
		logger.Error("fatal worker error", zap.Error(err))
		return err
	}

	logger.Info("worker exited")
	return nil
}
