package recordsapi

import (
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/observability"
	"github.com/zatekoja/clinicopsdashboard/pkg/config"
	"github.com/zatekoja/clinicopsdashboard/pkg/retry"
)

// OptionsFromConfig builds client options from application configuration
func OptionsFromConfig(cfg *config.Config, metrics *observability.Metrics) Options {
	retryCfg := retry.DefaultConfig()
	if cfg.Retry.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialDelay > 0 {
		retryCfg.InitialDelay = cfg.Retry.InitialDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		retryCfg.MaxDelay = cfg.Retry.MaxDelay
	}

	maxFailures := uint32(0)
	if cfg.Breaker.MaxFailures > 0 {
		maxFailures = uint32(cfg.Breaker.MaxFailures)
	}

	return Options{
		BaseURL:     cfg.Records.BaseURL,
		Token:       cfg.Records.APIToken,
		Timeout:     cfg.Records.Timeout,
		Retry:       retryCfg,
		MaxFailures: maxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
		Metrics:     metrics,
	}
}
