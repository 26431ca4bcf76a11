package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"gamebridge/internal/domain"
)

// DefaultURL is the public control plane.
const DefaultURL = "wss://connect.takaro.io/"

// Config is the top-level bridge configuration.
type Config struct {
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Endpoints    []EndpointConfig   `yaml:"endpoints"`
	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Link         LinkConfig         `yaml:"link"`
	Actions      ActionsConfig      `yaml:"actions"`
	LogForward   LogForwardConfig   `yaml:"log_forward"`
	StatusReport StatusReportConfig `yaml:"status_report"`
	Includes     []string           `yaml:"includes,omitempty"`
}

// EndpointConfig describes one control plane connection.
type EndpointConfig struct {
	Name              string `yaml:"name"`
	URL               string `yaml:"url"`
	IdentityToken     string `yaml:"identity_token"`
	RegistrationToken string `yaml:"registration_token,omitempty"`
	Secondary         bool   `yaml:"secondary,omitempty"`
	// nil means the role default: fatal on primary, logged on secondary.
	ErrorIsFatal *bool `yaml:"error_is_fatal,omitempty"`
	// nil means fatal.
	IdentifyErrorIsFatal *bool    `yaml:"identify_error_is_fatal,omitempty"`
	AllowedEvents        []string `yaml:"allowed_events,omitempty"`
	// nil on a secondary means log and chat-message are withheld.
	DeniedEvents []string `yaml:"denied_events,omitempty"`
}

// DefaultSecondaryDenied lists the event types a secondary endpoint does not
// receive unless denied_events is set explicitly.
var DefaultSecondaryDenied = []domain.EventType{domain.EventLog, domain.EventChatMessage}

// Endpoint resolves role defaults and returns the domain value.
func (e EndpointConfig) Endpoint() domain.Endpoint {
	ep := domain.Endpoint{
		Name:                 e.Name,
		URL:                  e.URL,
		IdentityToken:        e.IdentityToken,
		RegistrationToken:    e.RegistrationToken,
		Secondary:            e.Secondary,
		ErrorIsFatal:         !e.Secondary,
		IdentifyErrorIsFatal: true,
		AllowedEvents:        eventTypes(e.AllowedEvents),
		DeniedEvents:         eventTypes(e.DeniedEvents),
	}
	if e.ErrorIsFatal != nil {
		ep.ErrorIsFatal = *e.ErrorIsFatal
	}
	if e.IdentifyErrorIsFatal != nil {
		ep.IdentifyErrorIsFatal = *e.IdentifyErrorIsFatal
	}
	if e.Secondary && e.DeniedEvents == nil {
		ep.DeniedEvents = append([]domain.EventType(nil), DefaultSecondaryDenied...)
	}
	return ep
}

func eventTypes(in []string) []domain.EventType {
	if in == nil {
		return nil
	}
	out := make([]domain.EventType, 0, len(in))
	for _, s := range in {
		out = append(out, domain.EventType(s))
	}
	return out
}

// ReconnectConfig is the backoff policy shared by every endpoint.
type ReconnectConfig struct {
	Base   time.Duration `yaml:"base"`
	Max    time.Duration `yaml:"max"`
	Factor float64       `yaml:"factor"`
	Jitter float64       `yaml:"jitter"`
}

// LinkConfig tunes each socket.
type LinkConfig struct {
	SendQueueSize int           `yaml:"send_queue_size"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadLimit     int64         `yaml:"read_limit"`
}

// ActionsConfig holds action registry settings.
type ActionsConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the per-action breaker.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// LogForwardConfig controls forwarding of bridge logs as "log" game events.
type LogForwardConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Level      string  `yaml:"level"`
	Schedule   string  `yaml:"schedule"` // cron expression or duration string
	BatchSize  int     `yaml:"batch_size"`
	BufferSize int     `yaml:"buffer_size"`
	Rate       float64 `yaml:"rate"` // lines per second
	Burst      int     `yaml:"burst"`
}

// StatusReportConfig controls the periodic connection status log line.
type StatusReportConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults. It has no endpoints;
// Load falls back to the public control plane when none are configured.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Reconnect: ReconnectConfig{
			Base:   3 * time.Second,
			Max:    60 * time.Second,
			Factor: 2,
			Jitter: 0.25,
		},
		Link: LinkConfig{
			SendQueueSize: 256,
			WriteTimeout:  10 * time.Second,
			DialTimeout:   15 * time.Second,
			ReadLimit:     4 << 20,
		},
		Actions: ActionsConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		LogForward: LogForwardConfig{
			Enabled:    true,
			Level:      "info",
			Schedule:   "2s",
			BatchSize:  50,
			BufferSize: 1000,
			Rate:       25,
			Burst:      50,
		},
		StatusReport: StatusReportConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		extra, err := processIncludes(cfg, filepath.Dir(absPath), visited, 0)
		if err != nil {
			return nil, err
		}
		// The main file takes precedence over anything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config (second pass): %v", domain.ErrConfigLoad, err)
		}
		cfg.Includes = nil
		appendEndpoints(cfg, extra)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []EndpointConfig{{Name: "takaro", URL: DefaultURL}}
	}
	ApplyEnvOverrides(cfg)
	fillEndpointDefaults(cfg)

	if passphrase := os.Getenv("BRIDGE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps BRIDGE_* env vars to config fields. Endpoint
// variables target the primary; BRIDGE_DEV_* target the first secondary and
// create one when BRIDGE_DEV_URL is set and none is configured.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("BRIDGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("BRIDGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("BRIDGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("BRIDGE_RECONNECT_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Reconnect.Max = d
		}
	}
	if v := os.Getenv("BRIDGE_SEND_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Link.SendQueueSize = n
		}
	}
	if v := os.Getenv("BRIDGE_LOG_FORWARD_ENABLED"); v != "" {
		cfg.LogForward.Enabled = v == "true"
	}

	if ep := endpointByRole(cfg, false); ep != nil {
		overrideEndpoint(ep, "BRIDGE_")
	}

	if ep := endpointByRole(cfg, true); ep != nil {
		overrideEndpoint(ep, "BRIDGE_DEV_")
	} else if v := os.Getenv("BRIDGE_DEV_URL"); v != "" {
		dev := EndpointConfig{Name: "dev", Secondary: true}
		overrideEndpoint(&dev, "BRIDGE_DEV_")
		cfg.Endpoints = append(cfg.Endpoints, dev)
	}
}

// fillEndpointDefaults names anonymous endpoints and points an unset
// primary at the public control plane.
func fillEndpointDefaults(cfg *Config) {
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.Name == "" {
			if ep.Secondary {
				ep.Name = fmt.Sprintf("secondary-%d", i)
			} else {
				ep.Name = "primary"
			}
		}
		if ep.URL == "" && !ep.Secondary {
			ep.URL = DefaultURL
		}
	}
}

func overrideEndpoint(ep *EndpointConfig, prefix string) {
	if v := os.Getenv(prefix + "URL"); v != "" {
		ep.URL = v
	}
	if v := os.Getenv(prefix + "IDENTITY_TOKEN"); v != "" {
		ep.IdentityToken = v
	}
	if v := os.Getenv(prefix + "REGISTRATION_TOKEN"); v != "" {
		ep.RegistrationToken = v
	}
	if v := os.Getenv(prefix + "DENIED_EVENTS"); v != "" {
		ep.DeniedEvents = splitAndTrim(v, ",")
	}
}

func endpointByRole(cfg *Config, secondary bool) *EndpointConfig {
	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Secondary == secondary {
			return &cfg.Endpoints[i]
		}
	}
	return nil
}

// splitAndTrim splits s by sep, trims each element and drops empty ones.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." endpoint tokens with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		for _, fp := range []*string{&ep.IdentityToken, &ep.RegistrationToken} {
			if !strings.HasPrefix(*fp, "enc:") {
				continue
			}
			decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("endpoint %s token: %w", ep.Name, err)
			}
			*fp = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %v", domain.ErrEncryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", domain.ErrEncryption, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat config: %v", domain.ErrConfigLoad, err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("%w: config file %s has insecure permissions %o (want 0600 or 0644)", domain.ErrConfigLoad, path, mode)
	}
	return nil
}
