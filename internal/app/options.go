package app

import (
	"time"

	"leadflow/backend/internal/config"
	"leadflow/backend/internal/dispatch/email"
	"leadflow/backend/internal/dispatch/sms"
	otpservice "leadflow/backend/internal/otp/service"
	telemetry "leadflow/backend/internal/telemetry/otel"
)

const serviceName = "leadflow-auth"

// OTPOptions converts the OTP settings.
func OTPOptions(cfg *config.Config) otpservice.Options {
	return otpservice.Options{
		CodeLength:  cfg.OTPCodeLength,
		Validity:    cfg.OTPValidity(),
		TestingMode: cfg.OTPTestingMode,
		DummyCode:   cfg.OTPDummyCode,
		MasterCode:  cfg.OTPMasterCode,
		PurgeGrace:  cfg.OTPPurgeGrace,
	}
}

func SMSOptions(cfg *config.Config) sms.Options {
	return sms.Options{
		APIKey:         cfg.SMSLocalAPIKey,
		BaseURL:        cfg.SMSLocalBaseURL,
		SenderID:       cfg.SMSSenderID,
		Route:          cfg.SMSRoute,
		CountryPrefix:  cfg.SMSCountryPrefix,
		AppName:        cfg.AppName,
		MaxAttempts:    cfg.DispatchMaxAttempts,
		BaseDelay:      cfg.DispatchBaseDelay,
		MaxDelay:       cfg.DispatchMaxDelay,
		AttemptTimeout: cfg.DispatchAttemptTimeout,
	}
}

// EmailOptions converts the email settings. The mailer keeps its own fixed retry delay.
func EmailOptions(cfg *config.Config) email.Options {
	opts := email.DefaultOptions()
	opts.From = cfg.EmailFrom
	if cfg.AppName != "" {
		opts.AppName = cfg.AppName
	}
	opts.MaxRetries = cfg.EmailMaxRetries
	if cfg.DispatchAttemptTimeout > 0 {
		opts.AttemptTimeout = cfg.DispatchAttemptTimeout
	}
	return opts
}

func TelemetryOptions(cfg *config.Config) telemetry.Options {
	return telemetry.Options{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    serviceName,
		Insecure:       cfg.OTLPInsecure,
		MetricInterval: 15 * time.Second,
	}
}
