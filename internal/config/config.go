package config

import (
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Upstream   UpstreamConfig   `koanf:"upstream"`
	Checker    CheckerConfig    `koanf:"checker"`
	Optimizer  OptimizerConfig  `koanf:"optimizer"`
	Accounting AccountingConfig `koanf:"accounting"`
	Limits     LimitsConfig     `koanf:"limits"`
	Policy     PolicyConfig     `koanf:"policy"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type UpstreamConfig struct {
	// Registry maps provider entries to the models they serve. The entry
	// named Default handles any model not claimed by another entry.
	Registry []ProviderEntry `koanf:"registry"`
	Default  string          `koanf:"default"`
}

type ProviderEntry struct {
	Name    string   `koanf:"name"`
	BaseURL string   `koanf:"base_url"`
	APIKey  string   `koanf:"api_key"`
	Models  []string `koanf:"models"`
}

// CheckerConfig points at the secondary model the trust evaluator consults.
type CheckerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

type OptimizerConfig struct {
	RulesPath string `koanf:"rules_path"`
	// Default per-million-token prices seeded for models without an
	// operator-set price record.
	DefaultInputPrice  float64 `koanf:"default_input_price"`
	DefaultOutputPrice float64 `koanf:"default_output_price"`
}

type AccountingConfig struct {
	DBPath string `koanf:"db_path"`
}

type LimitsConfig struct {
	// DailyCostLimit of 0 disables the pre-flight check.
	DailyCostLimit float64 `koanf:"daily_cost_limit"`
	Window         string  `koanf:"window"`
}

type PolicyConfig struct {
	AllowedDomains []string `koanf:"allowed_domains"`
	BlockUntrusted bool     `koanf:"block_untrusted"`
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	home, _ := os.UserHomeDir()

	defaults := map[string]interface{}{
		"server.port":                    DefaultServerPort,
		"server.log_level":               DefaultServerLogLevel,
		"server.read_timeout":            DefaultServerReadTimeout,
		"server.write_timeout":           DefaultServerWriteTimeout,
		"server.idle_timeout":            DefaultServerIdleTimeout,
		"server.shutdown_timeout":        DefaultServerShutdownTimeout,
		"upstream.default":               DefaultUpstreamName,
		"upstream.registry":              []ProviderEntry{{Name: DefaultUpstreamName, BaseURL: DefaultUpstreamBaseURL}},
		"checker.enabled":                true,
		"checker.model":                  DefaultCheckerModel,
		"optimizer.rules_path":           filepath.Join(home, ".torii", "rules.yaml"),
		"optimizer.default_input_price":  DefaultInputPricePerMTok,
		"optimizer.default_output_price": DefaultOutputPricePerMTok,
		"accounting.db_path":             filepath.Join(home, ".torii", "torii.db"),
		"limits.daily_cost_limit":        DefaultDailyCostLimit,
		"limits.window":                  DefaultLimitWindow,
		"policy.block_untrusted":         true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else if home != "" {
		globalPath := filepath.Join(home, ".torii", "config.yaml")
		if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
			slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
		}
	}

	k.Load(env.Provider("TORII_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TORII_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Credential pass-through: a registry entry without a key inherits the
	// standard env var.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, p := range cfg.Upstream.Registry {
			if p.APIKey == "" {
				cfg.Upstream.Registry[i].APIKey = key
			}
		}
		if cfg.Checker.APIKey == "" {
			cfg.Checker.APIKey = key
		}
	}

	return &cfg, nil
}
