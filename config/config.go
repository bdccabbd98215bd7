package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/persona"
	"gopkg.in/yaml.v3"
)

// Dir is the per-user and per-project configuration directory name.
const Dir = ".frend"

type Config struct {
	LLMClient string `yaml:"llm"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
	RateBurst   int           `yaml:"rate_burst"`

	User         *persona.Persona  `yaml:"user"`
	Agents       []persona.Persona `yaml:"agents"`
	PersonaFiles []string          `yaml:"persona_files"`

	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`

	// root is where persona file patterns are resolved.
	root string
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	r := persona.DefaultRoster()
	return &Config{
		LLMClient:   "openai",
		Model:       "gpt-4o",
		Temperature: 0.9,
		MaxTokens:   600,
		RateBurst:   1,
		User:        r.User,
		Agents:      r.Agents,
		LogLevel:    "info",
		LogFile:     filepath.Join(Dir, "frend.log"),
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. A non-empty explicit
// path is loaded last and must exist.
func LoadConfig(explicit string) (*Config, error) {
	cfg := Default()

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, Dir, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	cfg.root = wd
	projectConfigPath := filepath.Join(wd, Dir, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if explicit != "" {
		if err := loadFromFile(explicit, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", explicit)
		}
		cfg.root = filepath.Dir(explicit)
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level, and a
	// listed agents block replaces the previous one entirely.
	return yaml.Unmarshal(data, cfg)
}

// Roster builds the starting roster: the configured user and agents, then
// every persona found through PersonaFiles.
func (c *Config) Roster() (persona.Roster, error) {
	r := persona.Roster{Agents: append([]persona.Persona(nil), c.Agents...)}
	if c.User != nil {
		u := *c.User
		r.User = &u
	}
	if len(c.PersonaFiles) > 0 {
		root := c.root
		if root == "" {
			root = "."
		}
		extra, err := persona.LoadFiles(root, c.PersonaFiles)
		if err != nil {
			return persona.Roster{}, err
		}
		r.Agents = append(r.Agents, extra...)
	}
	return r, nil
}
