package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/aida/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables recognised by the loader.
const (
	EnvConfigPath            = "AIDA_CONFIG_PATH"
	EnvCoreProvider          = "AIDA_CORE_PROVIDER"
	EnvCoreModel             = "AIDA_CORE_MODEL"
	EnvPreprocessorProvider  = "AIDA_PREPROCESSOR_PROVIDER"
	EnvPreprocessorModel     = "AIDA_PREPROCESSOR_MODEL"
	EnvProvider              = "AIDA_PROVIDER"
	defaultGeneratedCodePath = "generated_code.py"
)

type Config struct {
	CoreProvider         string `yaml:"core_provider"`
	CoreModel            string `yaml:"core_model"`
	PreprocessorProvider string `yaml:"preprocessor_provider"`
	PreprocessorModel    string `yaml:"preprocessor_model"`
	Debug                bool   `yaml:"debug"`

	CoderProvider            string `yaml:"coder_provider"`
	CoderModel               string `yaml:"coder_model"`
	MaxIterations            int    `yaml:"max_iterations"`
	CoderMaxIterations       int    `yaml:"coder_max_iterations"`
	CoderStrongMaxIterations int    `yaml:"coder_strong_max_iterations"`
	HistoryWindow            int    `yaml:"history_window"`

	Temperature     float64       `yaml:"temperature"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`

	// StrongModels are glob patterns over model names. Matching models skip the
	// final-answer repair pass.
	StrongModels  []string            `yaml:"strong_models"`
	AllowedModels map[string][]string `yaml:"allowed_models"`
	OllamaHost    string              `yaml:"ollama_host"`

	GeneratedCodePath string   `yaml:"generated_code_path"`
	// AllowedCommands are regexes each matching one whole command; see gate.Policy.
	AllowedCommands   []string `yaml:"allowed_commands"`
	AuditDB           string   `yaml:"audit_db"`
	SessionDir        string   `yaml:"session_dir"`
	SearchEndpoint    string   `yaml:"search_endpoint"`
}

// Overrides carries explicit command-line values. Empty fields leave the
// resolved configuration untouched.
type Overrides struct {
	CoreModel         string
	PreprocessorModel string
	Provider          string
	Debug             bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CoreProvider:             "ollama",
		CoreModel:                "llama3.2:3b",
		PreprocessorProvider:     "gemini",
		PreprocessorModel:        "gemini-1.5-flash",
		CoderProvider:            "gemini",
		CoderModel:               "gemini-1.5-flash",
		MaxIterations:            6,
		CoderMaxIterations:       10,
		CoderStrongMaxIterations: 20,
		HistoryWindow:            5,
		ProviderTimeout:          2 * time.Minute,
		CommandTimeout:           5 * time.Minute,
		StrongModels:             []string{"gemini-*", "gpt-4*", "claude-*", "anthropic.claude-*"},
		AllowedModels: map[string][]string{
			"gemini": {"gemini-1.5-flash", "gemini-2.0-flash-exp", "gemini-2.0-flash-thinking-exp"},
			"openai": {"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"},
			"anthropic": {
				"claude-3-5-haiku-latest",
				"claude-3-7-sonnet-latest",
				"claude-sonnet-4-20250514",
			},
			"bedrock": {
				"anthropic.claude-3-5-sonnet-20240620-v1:0",
				"anthropic.claude-3-haiku-20240307-v1:0",
			},
		},
		GeneratedCodePath: defaultGeneratedCodePath,
		SessionDir:        filepath.Join(".aida", "sessions"),
		SearchEndpoint:    "https://html.duckduckgo.com/html/",
	}
}

// DefaultPaths lists the locations searched when no explicit path is given.
func DefaultPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "aida", "config.yaml"),
			filepath.Join(home, ".aida.yaml"),
		)
	}
	return append(paths, "config.yaml")
}

// Load resolves the configuration file and merges it over the defaults.
// The path is taken from the argument, then AIDA_CONFIG_PATH, then the first
// existing default location. An explicit path that cannot be read or parsed is
// an error; absence of any default file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if envPath := os.Getenv(EnvConfigPath); envPath != "" {
			path, explicit = envPath, true
		}
	}
	if !explicit {
		for _, candidate := range DefaultPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return cfg, nil
	}

	if err := loadFromFile(path, cfg); err != nil {
		if !explicit {
			return Default(), nil
		}
		return nil, errors.Wrapf(errors.Mark(err, errors.ErrConfig), "error loading config %s", path)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the file replace the defaults; absent fields keep them.
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv layers the AIDA_* provider and model variables over the file values.
// AIDA_PROVIDER sets both roles unless an explicit provider override is given.
func (c *Config) ApplyEnv(o Overrides) {
	setFromEnv(&c.CoreProvider, EnvCoreProvider)
	setFromEnv(&c.CoreModel, EnvCoreModel)
	setFromEnv(&c.PreprocessorProvider, EnvPreprocessorProvider)
	setFromEnv(&c.PreprocessorModel, EnvPreprocessorModel)

	if o.Provider == "" {
		setFromEnv(&c.CoreProvider, EnvProvider)
		setFromEnv(&c.PreprocessorProvider, EnvProvider)
	}
}

// ApplyOverrides layers explicit command-line values. A provider override
// cascades to both the core and the preprocessor.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.CoreModel != "" {
		c.CoreModel = o.CoreModel
	}
	if o.PreprocessorModel != "" {
		c.PreprocessorModel = o.PreprocessorModel
	}
	if o.Provider != "" {
		c.CoreProvider = o.Provider
		c.PreprocessorProvider = o.Provider
	}
	if o.Debug {
		c.Debug = true
	}
}

// Resolve loads the file at path and applies environment then command-line
// overrides, in that order.
func Resolve(path string, o Overrides) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(o)
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.CoreProvider) == "" || strings.TrimSpace(c.CoreModel) == "":
		return errors.Wrapf(errors.ErrConfig, "core provider and model are required")
	case strings.TrimSpace(c.PreprocessorProvider) == "" || strings.TrimSpace(c.PreprocessorModel) == "":
		return errors.Wrapf(errors.ErrConfig, "preprocessor provider and model are required")
	case c.MaxIterations <= 0:
		return errors.Wrapf(errors.ErrConfig, "max_iterations must be positive, got %d", c.MaxIterations)
	case c.CoderMaxIterations <= 0 || c.CoderStrongMaxIterations <= 0:
		return errors.Wrapf(errors.ErrConfig, "coder iteration bounds must be positive")
	case c.HistoryWindow < 0:
		return errors.Wrapf(errors.ErrConfig, "history_window must not be negative")
	case c.GeneratedCodePath == "":
		return errors.Wrapf(errors.ErrConfig, "generated_code_path is required")
	}
	return nil
}

func setFromEnv(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}
