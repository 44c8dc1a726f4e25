package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"chathub/internal/domain"
)

// Config is the root configuration for the hub.
type Config struct {
	General     GeneralConfig          `yaml:"general"`
	Storage     StorageConfig          `yaml:"storage"`
	Dedupe      DedupeConfig           `yaml:"dedupe"`
	Events      EventsConfig           `yaml:"events"`
	Providers   map[string]Provider    `yaml:"providers"`
	ToolServers []ToolServer           `yaml:"toolServers,omitempty"`
	Tenants     []Tenant               `yaml:"tenants"`
}

type GeneralConfig struct {
	LogLevel            string `yaml:"logLevel"`
	ListenAddr          string `yaml:"listenAddr"`
	MasterKey           string `yaml:"masterKey"` // base64, 32 bytes once decoded
	DefaultContextLimit int    `yaml:"defaultContextLimit"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

// DedupeConfig selects the duplicate-event store. Backend "memory" needs
// no further settings; "redis" requires Addr.
type DedupeConfig struct {
	Backend    string `yaml:"backend"` // "memory" | "redis"
	Addr       string `yaml:"addr,omitempty"`
	Password   string `yaml:"password,omitempty"`
	DB         int    `yaml:"db,omitempty"`
	TTLSeconds int    `yaml:"ttlSeconds,omitempty"`
}

// EventsConfig configures the AMQP activity feed. Leave URL empty to
// disable publishing.
type EventsConfig struct {
	URL      string `yaml:"url,omitempty"`
	Exchange string `yaml:"exchange,omitempty"`
}

type Provider struct {
	Type    string `yaml:"type"` // "openai" is the only backend today
	APIBase string `yaml:"apiBase,omitempty"`
}

// ToolServer is one external tool server reachable over JSON-RPC HTTP.
// Tools it exposes are registered under mcp_<name>_<tool>.
type ToolServer struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token,omitempty"`
}

type Tenant struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name,omitempty"`
	Channels []Channel      `yaml:"channels"`
	Agents   []Agent        `yaml:"agents"`
}

// Channel is one configured platform connection. ConfigCiphertext is
// the secrets-box encryption of the channel's JSON settings bundle,
// whose shape depends on Type (token, parse mode, phone number id and
// the like). The whole bundle stays encrypted at rest; it is decrypted
// per call, never cached.
type Channel struct {
	ID               string             `yaml:"id"`
	Type             domain.ChannelType `yaml:"type"`
	Name             string             `yaml:"name"` // mention token for groups
	DefaultAgentID   string             `yaml:"defaultAgentId,omitempty"`
	ContextLimit     int                `yaml:"contextLimit,omitempty"`
	ConfigCiphertext string             `yaml:"configCiphertext"`
}

type Agent struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Provider         string   `yaml:"provider"`
	Model            string   `yaml:"model,omitempty"`
	SystemPrompt     string   `yaml:"systemPrompt,omitempty"`
	Temperature      *float64 `yaml:"temperature,omitempty"`
	MaxTokens        int      `yaml:"maxTokens,omitempty"`
	TopP             *float64 `yaml:"topP,omitempty"`
	FrequencyPenalty *float64 `yaml:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `yaml:"presencePenalty,omitempty"`
	Active           *bool    `yaml:"active,omitempty"` // nil = active
	APIKeyCiphertext string   `yaml:"apiKeyCiphertext"`
}

// IsActive treats an unset flag as active.
func (a Agent) IsActive() bool { return a.Active == nil || *a.Active }

// Load reads, env-expands, parses, and validates a config file.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is
// unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes the config back out as YAML.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the config once at the boundary. Channel types must
// be known; agents must reference configured providers.
func Validate(cfg *Config) error {
	for _, t := range cfg.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenant without id")
		}
		agentIDs := make(map[string]bool, len(t.Agents))
		for _, a := range t.Agents {
			if a.ID == "" {
				return fmt.Errorf("tenant %s: agent without id", t.ID)
			}
			if agentIDs[a.ID] {
				return fmt.Errorf("tenant %s: duplicate agent id %s", t.ID, a.ID)
			}
			agentIDs[a.ID] = true
			if _, ok := cfg.Providers[a.Provider]; !ok {
				return fmt.Errorf("tenant %s: agent %s references unknown provider %q", t.ID, a.ID, a.Provider)
			}
		}
		for _, ch := range t.Channels {
			if ch.ID == "" {
				return fmt.Errorf("tenant %s: channel without id", t.ID)
			}
			if err := validateChannel(ch); err != nil {
				return fmt.Errorf("tenant %s: channel %s: %w", t.ID, ch.ID, err)
			}
			if ch.DefaultAgentID != "" && !agentIDs[ch.DefaultAgentID] {
				return fmt.Errorf("tenant %s: channel %s: unknown default agent %q", t.ID, ch.ID, ch.DefaultAgentID)
			}
		}
	}
	for _, ts := range cfg.ToolServers {
		if ts.Name == "" || ts.URL == "" {
			return fmt.Errorf("tool server entries need both name and url")
		}
		if strings.Contains(ts.Name, "_") {
			return fmt.Errorf("tool server name %q: underscores are reserved for tool namespacing", ts.Name)
		}
	}
	switch cfg.Dedupe.Backend {
	case "", "memory":
	case "redis":
		if cfg.Dedupe.Addr == "" {
			return fmt.Errorf("dedupe backend redis requires addr")
		}
	default:
		return fmt.Errorf("unknown dedupe backend %q", cfg.Dedupe.Backend)
	}
	return nil
}

func validateChannel(ch Channel) error {
	switch ch.Type {
	case domain.ChannelTelegram, domain.ChannelWhatsApp, domain.ChannelSlack, domain.ChannelDiscord:
	default:
		return fmt.Errorf("unknown channel type %q", ch.Type)
	}
	if ch.Name == "" {
		return fmt.Errorf("channel name (mention token) is required")
	}
	if ch.ConfigCiphertext == "" {
		return fmt.Errorf("configCiphertext is required")
	}
	return nil
}

// DefaultConfigDir returns the default config directory (~/.chathub).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chathub"
	}
	return filepath.Join(home, ".chathub")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
