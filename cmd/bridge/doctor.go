package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gamebridge/internal/adapter/transport"
	"gamebridge/internal/domain"
	"gamebridge/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const reachabilityTimeout = 5 * time.Second

// runDoctor executes all health checks and reports results to w.
func runDoctor(w io.Writer) error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Identity tokens", Fn: checkIdentityTokens},
		{Name: "Endpoint reachability", Fn: checkEndpoints(transport.NewDialer())},
		{Name: "Log output", Fn: checkLogOutput},
	}
	_, fail := report(w, checks, cfg)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func report(w io.Writer, checks []Check, cfg *config.Config) (warn, fail int) {
	fmt.Fprintln(w, "bridge doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	switch {
	case fail > 0:
		fmt.Fprintln(w, "\nFix the FAIL issues above before starting the bridge.")
	case warn > 0:
		fmt.Fprintln(w, "\nThe bridge should work, but consider addressing the warnings.")
	default:
		fmt.Fprintln(w, "\nAll checks passed! The bridge is ready to run.")
	}
	return warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config loaded. A missing file is only
// a warning since defaults and BRIDGE_* variables may be enough.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			fix := "Check the YAML syntax and the values named above"
			if errors.Is(cfgErr, domain.ErrDecryption) {
				fix = "Set BRIDGE_CONFIG_KEY to the passphrase used with 'bridge encrypt'"
			}
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fix,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s; using defaults and environment", cfgPath),
				Fix:     "Create bridge.yaml or pass --config PATH",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkIdentityTokens verifies every endpoint can identify.
func checkIdentityTokens(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	var missing, ok []string
	for _, ep := range cfg.Endpoints {
		if ep.IdentityToken == "" {
			missing = append(missing, ep.Name)
		} else {
			ok = append(ok, ep.Name)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no identity token for: %s", strings.Join(missing, ", ")),
			Fix:     "Set identity_token in the config or BRIDGE_IDENTITY_TOKEN",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("identity tokens set for: %s", strings.Join(ok, ", ")),
	}
}

// checkEndpoints opens and immediately closes a socket to every endpoint.
// An unreachable secondary is only a warning.
func checkEndpoints(dialer domain.Dialer) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
		}

		status := StatusPass
		var notes []string
		for _, ep := range cfg.Endpoints {
			ctx, cancel := context.WithTimeout(context.Background(), reachabilityTimeout)
			sock, err := dialer.Dial(ctx, ep.URL)
			cancel()
			if err != nil {
				notes = append(notes, fmt.Sprintf("%s unreachable (%v)", ep.Name, err))
				if ep.Secondary {
					if status == StatusPass {
						status = StatusWarn
					}
				} else {
					status = StatusFail
				}
				continue
			}
			sock.Close("doctor")
			notes = append(notes, ep.Name+" ok")
		}

		result := CheckResult{Status: status, Message: strings.Join(notes, "; ")}
		if status != StatusPass {
			result.Fix = "Check the endpoint url and outbound network access (wss, port 443)"
		}
		return result
	}
}

// checkLogOutput verifies a file log output can be created.
func checkLogOutput(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check: config not loaded"}
	}
	switch out := strings.ToLower(cfg.Logger.Output); out {
	case "", "stdout", "stderr", "discard":
		return CheckResult{Status: StatusPass, Message: "logging to " + cmp.Or(out, "stderr")}
	}

	dir := filepath.Dir(cfg.Logger.Output)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("log directory %s does not exist", dir),
			Fix:     "Create the directory or set logger.output to stderr",
		}
	}
	return CheckResult{Status: StatusPass, Message: "logging to " + cfg.Logger.Output}
}
