package config

import (
	"fmt"
	"net/url"
	"strings"

	"gamebridge/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap lets callers match validation failures with errors.Is(err, domain.ErrInvalidCfg).
func (v *ValidationError) Unwrap() error { return domain.ErrInvalidCfg }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateEndpoints(cfg, ve)
	validateReconnect(cfg, ve)
	validateLink(cfg, ve)
	validateActions(cfg, ve)
	validateLogForward(cfg, ve)
	validateStatusReport(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported (noop, stdout)", cfg.Tracer.Exporter)
	}
}

func validateEndpoints(cfg *Config, ve *ValidationError) {
	if len(cfg.Endpoints) == 0 {
		ve.Add("endpoints: at least one endpoint is required")
		return
	}
	primaries := 0
	names := make(map[string]int, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if !ep.Secondary {
			primaries++
		}
		if ep.Name == "" {
			ve.Add("endpoints[%d].name is required", i)
		} else if j, dup := names[ep.Name]; dup {
			ve.Add("endpoints[%d].name %q duplicates endpoints[%d]", i, ep.Name, j)
		} else {
			names[ep.Name] = i
		}
		if ep.IdentityToken == "" {
			ve.Add("endpoints[%d].identity_token is required", i)
		}
		if strings.HasPrefix(ep.IdentityToken, "enc:") || strings.HasPrefix(ep.RegistrationToken, "enc:") {
			ve.Add("endpoints[%d] has an encrypted token but BRIDGE_CONFIG_KEY is not set", i)
		}
		validateURL(fmt.Sprintf("endpoints[%d].url", i), ep.URL, ve)
	}
	if primaries != 1 {
		ve.Add("endpoints: exactly one primary endpoint is required, found %d", primaries)
	}
}

func validateURL(field, raw string, ve *ValidationError) {
	if raw == "" {
		ve.Add("%s is required", field)
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		ve.Add("%s: %v", field, err)
		return
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		ve.Add("%s scheme must be ws or wss, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		ve.Add("%s has no host", field)
	}
}

func validateReconnect(cfg *Config, ve *ValidationError) {
	r := cfg.Reconnect
	if r.Base <= 0 {
		ve.Add("reconnect.base must be > 0")
	}
	if r.Max < r.Base {
		ve.Add("reconnect.max must be >= reconnect.base")
	}
	if r.Factor < 1 {
		ve.Add("reconnect.factor must be >= 1")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		ve.Add("reconnect.jitter must be between 0 and 1")
	}
}

func validateLink(cfg *Config, ve *ValidationError) {
	if cfg.Link.SendQueueSize <= 0 {
		ve.Add("link.send_queue_size must be > 0")
	}
	if cfg.Link.WriteTimeout <= 0 {
		ve.Add("link.write_timeout must be > 0")
	}
	if cfg.Link.DialTimeout <= 0 {
		ve.Add("link.dial_timeout must be > 0")
	}
	if cfg.Link.ReadLimit < 0 {
		ve.Add("link.read_limit must be >= 0")
	}
}

func validateActions(cfg *Config, ve *ValidationError) {
	cb := cfg.Actions.CircuitBreaker
	if !cb.Enabled {
		return
	}
	if cb.MaxFailures == 0 {
		ve.Add("actions.circuit_breaker.max_failures must be > 0 when enabled")
	}
	if cb.OpenTimeout <= 0 {
		ve.Add("actions.circuit_breaker.open_timeout must be > 0 when enabled")
	}
}

func validateLogForward(cfg *Config, ve *ValidationError) {
	lf := cfg.LogForward
	if !lf.Enabled {
		return
	}
	if !validLevels[strings.ToLower(lf.Level)] {
		ve.Add("log_forward.level %q is not one of debug, info, warn, error", lf.Level)
	}
	if lf.Schedule == "" {
		ve.Add("log_forward.schedule is required when enabled")
	}
	if lf.BatchSize <= 0 {
		ve.Add("log_forward.batch_size must be > 0")
	}
	if lf.BufferSize < lf.BatchSize {
		ve.Add("log_forward.buffer_size must be >= log_forward.batch_size")
	}
	if lf.Rate <= 0 {
		ve.Add("log_forward.rate must be > 0")
	}
	if lf.Burst <= 0 {
		ve.Add("log_forward.burst must be > 0")
	}
}

func validateStatusReport(cfg *Config, ve *ValidationError) {
	if cfg.StatusReport.Enabled && cfg.StatusReport.Schedule == "" {
		ve.Add("status_report.schedule is required when enabled")
	}
}
