// Command sessionctl drives a session reconciler from the terminal. With arguments it
// runs one command and exits; without, it reads commands from stdin.
package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/clients"
	"github.com/hkinc45/dev-kitchen-session/config"
	"github.com/hkinc45/dev-kitchen-session/logging"
	"github.com/hkinc45/dev-kitchen-session/notice"
	"github.com/hkinc45/dev-kitchen-session/seed"
	"github.com/hkinc45/dev-kitchen-session/session"
	"github.com/hkinc45/dev-kitchen-session/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		output   string
		seedPath string
		wait     time.Duration
	)
	flagSet := pflag.NewFlagSet("sessionctl", pflag.ContinueOnError)
	flagSet.StringVarP(&output, "output", "o", "json", "view format: json or yaml")
	flagSet.StringVar(&seedPath, "seed", "", "TOML file of accounts for the built-in identity provider")
	flagSet.DurationVar(&wait, "wait", 3*time.Second, "how long to wait for the view to settle after a command")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if output != "json" && output != "yaml" {
		return fmt.Errorf("unknown output format %q", output)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{
		App:     "sessionctl",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		NoColor: cfg.LogNoColor,
		Out:     os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := newProvider(ctx, cfg, seedPath, logger)
	if err != nil {
		return err
	}

	cache, closeCache := newCache(cfg)
	defer closeCache()

	source := auth.NewSource(provider, cache, logging.Component(logger, "identity"))
	backend := clients.NewHTTPBackend(cfg.APIBaseURL, source.Token, nil)

	sinks := []notice.Sink{notice.LogSink{Logger: logging.Component(logger, "notice")}}
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("sessionctl-"+cfg.ClientID))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
		}
		defer nc.Drain()
		sinks = append(sinks, notice.NATSSink{Conn: nc, Prefix: cfg.SubjectPrefix, Logger: logger})
	}

	r := session.NewReconciler(session.Options{
		Source:       source,
		Backend:      backend,
		Notices:      notice.Multi(sinks...),
		GracePeriod:  cfg.GracePeriod,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       logging.Component(logger, "reconciler"),
	})
	defer r.Close()

	if nc != nil {
		sub, err := subscribeProvisioning(nc, cfg, r, logger)
		if err != nil {
			return err
		}
		defer sub.Stop()
	}

	if err := r.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("cached session could not be restored")
	}

	sh := &shell{r: r, provisioner: backend, out: os.Stdout, format: output, wait: wait}

	if args := flagSet.Args(); len(args) > 0 {
		if err := sh.exec(ctx, args); err != nil && !stderrors.Is(err, errQuit) {
			return err
		}
		return nil
	}
	return repl(ctx, sh)
}

func repl(ctx context.Context, sh *shell) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		args, err := splitLine(scanner.Text())
		if err == nil {
			err = sh.exec(ctx, args)
		}
		if stderrors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func newProvider(ctx context.Context, cfg config.Config, seedPath string, logger zerolog.Logger) (auth.Provider, error) {
	if cfg.UseOIDC() {
		if seedPath != "" {
			return nil, fmt.Errorf("--seed only applies to the built-in identity provider")
		}
		return auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			AdminURL:     cfg.OIDCAdminURL,
			Realm:        cfg.OIDCRealm,
		})
	}
	provider := auth.NewMemoryProvider([]byte(cfg.JWTSecret), cfg.TokenTTL, nil)
	if seedPath != "" {
		f, err := seed.Load(seedPath)
		if err != nil {
			return nil, err
		}
		identities, err := f.Apply(provider)
		if err != nil {
			return nil, err
		}
		logger.Info().Int("accounts", len(identities)).Str("file", seedPath).Msg("seeded identity provider")
	}
	return provider, nil
}

func newCache(cfg config.Config) (auth.SessionCache, func()) {
	if cfg.RedisAddr == "" {
		return &auth.MemorySessionCache{}, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	return auth.NewRedisSessionCache(client, cfg.ClientID), func() { _ = client.Close() }
}

func subscribeProvisioning(nc *nats.Conn, cfg config.Config, r *session.Reconciler, logger zerolog.Logger) (*worker.PullSubscriber, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}
	subject := worker.ProvisionedSubject(cfg.SubjectPrefix)
	if err := worker.EnsureStream(js, cfg.StreamName, subject); err != nil {
		return nil, err
	}
	workerLogger := logging.Component(logger, "provisioning")
	return worker.NewPullSubscriber(worker.Config{
		StreamName:    cfg.StreamName,
		Subject:       subject,
		DurableName:   cfg.DurableName + "-" + cfg.ClientID,
		BatchSize:     10,
		MaxConcurrent: 4,
		MaxWait:       5 * time.Second,
		Handler:       &worker.ProvisioningHandler{Target: r, Logger: workerLogger},
		JetStream:     js,
		Logger:        workerLogger,
	})
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sessionctl: sign in and watch the reconciled session view.

Settings come from SESSION_* environment variables (or a .env file).

Usage:
  sessionctl [flags] [command args...]

%s

Flags:
%s`, usage, flagSet.FlagUsages())
}
