package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gamebridge/internal/domain"
	"gamebridge/internal/infra/config"
)

type stubSocket struct{ closed bool }

func (s *stubSocket) Read(context.Context) ([]byte, error) { return nil, domain.ErrTransport }
func (s *stubSocket) Write(context.Context, []byte) error  { return nil }
func (s *stubSocket) Close(string) error                   { s.closed = true; return nil }

// stubDialer succeeds for every URL not in down.
type stubDialer struct {
	down    map[string]bool
	sockets []*stubSocket
}

func (d *stubDialer) Dial(_ context.Context, url string) (domain.Socket, error) {
	if d.down[url] {
		return nil, fmt.Errorf("%w: connection refused", domain.ErrTransport)
	}
	s := &stubSocket{}
	d.sockets = append(d.sockets, s)
	return s, nil
}

func dualConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Endpoints = []config.EndpointConfig{
		{Name: "primary", URL: "wss://connect.takaro.io/", IdentityToken: "srv"},
		{Name: "dev", URL: "wss://dev.example/", IdentityToken: "srv-dev", Secondary: true},
	}
	return cfg
}

func TestCheckConfigFile_Missing(t *testing.T) {
	result := checkConfigFile("/nonexistent/path/bridge.yaml", nil)(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	err := &config.ValidationError{Errors: []string{"endpoint primary: identity_token is required"}}
	result := checkConfigFile("bridge.yaml", err)(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "identity_token") {
		t.Errorf("message should carry the cause: %q", result.Message)
	}
}

func TestCheckConfigFile_DecryptionHint(t *testing.T) {
	err := fmt.Errorf("endpoint primary token: %w", domain.ErrDecryption)
	result := checkConfigFile("bridge.yaml", err)(nil)
	if !strings.Contains(result.Fix, "BRIDGE_CONFIG_KEY") {
		t.Errorf("Fix = %q", result.Fix)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte("endpoints: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	result := checkConfigFile(path, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckIdentityTokens(t *testing.T) {
	if r := checkIdentityTokens(nil); r.Status != StatusFail {
		t.Errorf("nil config: %s", r.Status)
	}

	cfg := dualConfig()
	if r := checkIdentityTokens(cfg); r.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", r.Status, r.Message)
	}

	cfg.Endpoints[1].IdentityToken = ""
	r := checkIdentityTokens(cfg)
	if r.Status != StatusFail || !strings.Contains(r.Message, "dev") {
		t.Errorf("expected FAIL naming dev, got %s: %s", r.Status, r.Message)
	}
}

func TestCheckEndpoints(t *testing.T) {
	tests := []struct {
		name string
		down map[string]bool
		want CheckStatus
	}{
		{"all reachable", nil, StatusPass},
		{"secondary down", map[string]bool{"wss://dev.example/": true}, StatusWarn},
		{"primary down", map[string]bool{"wss://connect.takaro.io/": true}, StatusFail},
		{"both down", map[string]bool{"wss://connect.takaro.io/": true, "wss://dev.example/": true}, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &stubDialer{down: tt.down}
			result := checkEndpoints(d)(dualConfig())
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", result.Status, tt.want, result.Message)
			}
			for _, s := range d.sockets {
				if !s.closed {
					t.Error("probe socket left open")
				}
			}
		})
	}
}

func TestCheckLogOutput(t *testing.T) {
	cfg := config.Defaults()
	if r := checkLogOutput(cfg); r.Status != StatusPass {
		t.Errorf("stderr: %s", r.Status)
	}

	cfg.Logger.Output = filepath.Join(t.TempDir(), "bridge.log")
	if r := checkLogOutput(cfg); r.Status != StatusPass {
		t.Errorf("temp file: %s: %s", r.Status, r.Message)
	}

	cfg.Logger.Output = "/nonexistent/dir/bridge.log"
	if r := checkLogOutput(cfg); r.Status != StatusFail {
		t.Errorf("missing dir: %s", r.Status)
	}
}

func TestReportCounts(t *testing.T) {
	checks := []Check{
		{Name: "a", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusPass, Message: "fine"} }},
		{Name: "b", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusWarn, Message: "meh", Fix: "do x"} }},
		{Name: "c", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusFail, Message: "bad"} }},
	}
	var buf bytes.Buffer
	warn, fail := report(&buf, checks, nil)
	if warn != 1 || fail != 1 {
		t.Errorf("warn=%d fail=%d", warn, fail)
	}
	out := buf.String()
	for _, want := range []string{"[PASS] a: fine", "[WARN] b: meh", "Fix: do x", "[FAIL] c: bad", "1 passed, 1 warnings, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}
}
