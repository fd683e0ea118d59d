// Package app builds every component from config.Config. It is the only package that reads Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"leadflow/backend/internal/cache"
	"leadflow/backend/internal/config"
	"leadflow/backend/internal/db"
	"leadflow/backend/internal/dispatch"
	"leadflow/backend/internal/dispatch/email"
	"leadflow/backend/internal/dispatch/sms"
	"leadflow/backend/internal/docstore"
	"leadflow/backend/internal/events"
	"leadflow/backend/internal/health"
	identityservice "leadflow/backend/internal/identity/service"
	otpdomain "leadflow/backend/internal/otp/domain"
	"leadflow/backend/internal/otp/ratelimit"
	otprepo "leadflow/backend/internal/otp/repository"
	otpservice "leadflow/backend/internal/otp/service"
	"leadflow/backend/internal/security"
	sessionservice "leadflow/backend/internal/session/service"
	telemetry "leadflow/backend/internal/telemetry/otel"
	userrepo "leadflow/backend/internal/user/repository"
	"leadflow/backend/internal/verification"
)

// App holds the wired components. Close releases every connection New opened.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Auth      *identityservice.AuthService
	OTP       *otpservice.Service
	Sessions  *sessionservice.Issuer
	Users     userrepo.Repository
	Gateway   *dispatch.Gateway
	Emitter   events.Emitter
	Health    *health.Checker
	Telemetry *telemetry.Providers

	closers []func(context.Context) error
}

type stores struct {
	otp     otprepo.Repository
	users   userrepo.Repository
	pingers map[string]health.Pinger
}

// New connects the configured datastores and assembles the auth subsystem.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	built := false
	defer func() {
		if !built {
			_ = a.Close(context.Background())
		}
	}()

	providers, err := telemetry.NewProviders(ctx, TelemetryOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.Telemetry = providers
	providers.SetGlobal()
	a.closers = append(a.closers, providers.Shutdown)
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	a.Users = st.users

	gateway, err := a.buildGateway(ctx, metrics)
	if err != nil {
		return nil, err
	}
	a.Gateway = gateway

	otpOpts := []otpservice.Option{otpservice.WithLogger(logger), otpservice.WithMetrics(metrics)}
	if cfg.RedisURL != "" {
		rc, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		st.pingers["redis"] = rc
		limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(rc.Client), cfg.OTPRateWindow, cfg.OTPRateMaxPerWindow, cfg.OTPRateCooldown)
		otpOpts = append(otpOpts, otpservice.WithLimiter(limiter))
	}
	a.OTP = otpservice.NewService(st.otp, gateway, OTPOptions(cfg), otpOpts...)

	tokens, err := security.NewTokenProvider(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return nil, err
	}
	a.Sessions = sessionservice.NewIssuer(tokens, st.users, a.OTP, sessionservice.WithLogger(logger))

	a.Emitter = a.buildEmitter(providers)
	router := verification.NewRouter(a.OTP, st.users, a.Sessions, logger)
	a.Auth = identityservice.NewAuthService(
		st.users,
		a.OTP,
		router,
		a.Sessions,
		security.NewHasher(cfg.BcryptCost),
		cfg.PasswordMinLength,
		a.Emitter,
		logger,
	)
	a.Health = health.NewChecker(st.pingers, logger)
	built = true
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	cfg := a.Config
	st := &stores{pingers: make(map[string]health.Pinger)}
	switch cfg.StoreDriver {
	case config.StorePostgres:
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		st.otp = otprepo.NewPostgresRepository(conn)
		st.users = userrepo.NewPostgresRepository(conn)
		st.pingers["postgres"] = conn
	case config.StoreMongo:
		store, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		st.pingers["mongo"] = store
		if st.otp, err = otprepo.NewMongoRepository(ctx, store.Database); err != nil {
			return nil, err
		}
		if st.users, err = userrepo.NewMongoRepository(ctx, store.Database); err != nil {
			return nil, err
		}
	default:
		a.Logger.Warn("using in-memory stores; data is lost on restart")
		st.otp = otprepo.NewMemoryRepository()
		st.users = userrepo.NewMemoryRepository()
	}
	return st, nil
}

func (a *App) buildGateway(ctx context.Context, recorder dispatch.AttemptRecorder) (*dispatch.Gateway, error) {
	cfg := a.Config
	gateway := dispatch.NewGateway(cfg.OTPTestingMode, a.Logger)
	if cfg.OTPTestingMode {
		a.Logger.Warn("OTP testing mode is on: codes are not delivered", zap.String("env", cfg.Env))
	}

	if cfg.SMSLocalAPIKey != "" {
		client := sms.NewSMSLocalClient(SMSOptions(cfg), a.Logger)
		client.SetRecorder(recorder)
		gateway.Register(otpdomain.ChannelSMS, client)
	}

	var transport email.Transport
	switch cfg.EmailTransport {
	case "smtp":
		t, err := email.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		transport = t
	case "ses":
		t, err := email.NewSESTransport(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("ses: %w", err)
		}
		transport = t
	}
	if transport != nil {
		mailer := email.NewMailer(transport, EmailOptions(cfg), a.Logger)
		mailer.SetRecorder(recorder)
		gateway.Register(otpdomain.ChannelEmail, mailer)
	}
	return gateway, nil
}

func (a *App) buildEmitter(providers *telemetry.Providers) events.Emitter {
	emitters := events.Multi{telemetry.NewEventEmitter(providers.LoggerProvider)}
	if producer := events.NewKafkaProducer(a.Config.KafkaBrokersList(), a.Config.AuthEventsTopic); producer != nil {
		a.closers = append(a.closers, func(context.Context) error { return producer.Close() })
		emitters = append(emitters, producer)
	}
	return emitters
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
