package config

import "time"

// AdmissionConfig tunes the pre-reservation waiting line.
// ConcurrencyBudget bounds how many live admission tokens an event may
// have at once; TokenTTL is how long an issued token stays redeemable;
// HeartbeatTTL is how long a waiting entry survives without a status
// poll; PromoteInterval is the tick of the background promotion cycle;
// ReconcileInterval is the tick of the stock reconciliation sweep.
type AdmissionConfig struct {
	ConcurrencyBudget int
	TokenTTL          time.Duration
	HeartbeatTTL      time.Duration
	PromoteInterval   time.Duration
	ReconcileInterval time.Duration
	TokenSecret       string
}

// LoadAdmissionConfig reads environment variables to build an
// AdmissionConfig.  The token signing secret is required; everything
// else has a sane default.  Values are floored so a misconfigured
// environment cannot stall promotion or expire entries instantly.
func LoadAdmissionConfig() AdmissionConfig {
	cfg := AdmissionConfig{
		ConcurrencyBudget: envInt("QUEUE_CONCURRENCY_BUDGET", 100),
		TokenTTL:          envDur("QUEUE_TOKEN_TTL", 2*time.Minute),
		HeartbeatTTL:      envDur("QUEUE_HEARTBEAT_TTL", 30*time.Second),
		PromoteInterval:   envDur("QUEUE_PROMOTE_INTERVAL", time.Second),
		ReconcileInterval: envDur("STOCK_RECONCILE_INTERVAL", time.Minute),
		TokenSecret:       must("QUEUE_TOKEN_SECRET"),
	}
	if cfg.ConcurrencyBudget < 1 {
		cfg.ConcurrencyBudget = 1
	}
	if cfg.TokenTTL < time.Second {
		cfg.TokenTTL = time.Second
	}
	if cfg.HeartbeatTTL < time.Second {
		cfg.HeartbeatTTL = time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}
	return cfg
}
