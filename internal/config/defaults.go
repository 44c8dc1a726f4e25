package config

import "path/filepath"

// Defaults returns a config with sane defaults; Load overlays the file
// on top of this.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:            "info",
			ListenAddr:          ":8085",
			DefaultContextLimit: 20,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(DefaultConfigDir(), "chathub.db"),
		},
		Dedupe: DedupeConfig{
			Backend:    "memory",
			TTLSeconds: 3600,
		},
		Providers: map[string]Provider{
			"openai": {Type: "openai"},
		},
	}
}
