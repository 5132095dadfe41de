package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/seanblong/metasearch/internal/scanner"
	"github.com/seanblong/metasearch/internal/store"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider   string            `yaml:"provider"`
	APIKey     string            `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel string            `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ChatModel  string            `yaml:"providerChatModel" envconfig:"PROVIDER_CHAT_MODEL"`
	ProjectID  string            `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location   string            `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	BaseURL    string            `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	Dim        int               `yaml:"providerDim" envconfig:"EMBED_DIM"`
	DataDir    string            `yaml:"dataDir" split_words:"true"`
	Backend    string            `yaml:"indexBackend" envconfig:"INDEX_BACKEND"`
	Database   string            `yaml:"database" envconfig:"DB_URL"`
	LogLevel   string            `yaml:"logLevel" split_words:"true"`
	Port       int               `yaml:"port" split_words:"true"`
	TopK       int               `yaml:"topK" envconfig:"TOP_K"`
	History    int               `yaml:"historyLines" envconfig:"HISTORY_LINES"`
	Workers    int               `yaml:"workers" split_words:"true"`
	Auth       AuthSpecification `yaml:"auth"`

	ScanSpecification  `yaml:",inline"`
	IndexSpecification `yaml:",inline"`

	flags *pflag.FlagSet `ignored:"true"`
}

// ScanSpecification mirrors the scanner's config.json keys.
type ScanSpecification struct {
	IgnoreDirs        []string `yaml:"ignore_dirs" envconfig:"IGNORE_DIRS"`
	IncludeExtensions []string `yaml:"include_extensions" envconfig:"INCLUDE_EXTENSIONS"`
	ScanAll           bool     `yaml:"scanAll" envconfig:"SCAN_ALL"`
	Directory         string   `yaml:"directory" envconfig:"SCAN_DIRECTORY"`
	Label             string   `yaml:"label" envconfig:"SCAN_LABEL"`
}

type IndexSpecification struct {
	Scans       []string `yaml:"scans" envconfig:"SCANS"`
	OutputLabel string   `yaml:"outputLabel" envconfig:"OUTPUT_LABEL"`
	IndexLabel  string   `yaml:"index" envconfig:"INDEX"`
}

type AuthSpecification struct {
	Enabled   bool          `yaml:"enabled"`
	JwtSecret string        `yaml:"jwtSecret" split_words:"true"`
	TokenTTL  time.Duration `yaml:"tokenTTL" envconfig:"TOKEN_TTL"`
}

const envPrefix = "METASEARCH"

var ErrInvalidConfig = errors.New("invalid config")

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < .env/env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// .env never overrides variables already exported
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Specification{}, fmt.Errorf("load .env: %w", err)
	}

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/metasearch.yaml",
				"config/config.yaml",
				"./metasearch.yaml",
				"./config.yaml",
				"./config.json",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if err := cfg.validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

func (c *Specification) validate() error {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case store.BackendFlat, store.BackendSQLite:
	case store.BackendPostgres:
		if strings.TrimSpace(c.Database) == "" {
			return fmt.Errorf("%w: METASEARCH_DB_URL is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown index backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.TopK < 1 {
		return fmt.Errorf("%w: topK must be at least 1, got %d", ErrInvalidConfig, c.TopK)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: dataDir is required", ErrInvalidConfig)
	}
	c.IncludeExtensions = scanner.NormalizeExtensions(c.IncludeExtensions)
	return nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (stub, openai, vertexai, ollama)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-chat-model", c.ChatModel, "Provider chat model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.String("provider-base-url", c.BaseURL, "Provider base URL")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("data-dir", c.DataDir, "Directory holding scans, indexes and locks")
	fs.String("index-backend", c.Backend, "Index backend (flat|sqlite|postgres)")
	fs.String("db-url", c.Database, "Database URL (DSN) for the postgres backend")

	fs.StringSlice("ignore-dirs", c.IgnoreDirs, "Directory names skipped while scanning")
	fs.StringSlice("include-extensions", c.IncludeExtensions, "File extensions scanned (empty means all)")
	fs.Bool("scan-all", c.ScanAll, "Scan every file and directory, ignoring the filters")
	fs.String("directory", c.Directory, "Directory to scan")
	fs.String("label", c.Label, "Label for the scan")

	fs.StringSlice("scans", c.Scans, "Scan labels to index")
	fs.String("output-label", c.OutputLabel, "Label for the built index")
	fs.String("index", c.IndexLabel, "Index label to chat with")

	fs.Int("top-k", c.TopK, "Documents retrieved per question")
	fs.Int("history-lines", c.History, "Conversation lines kept in the prompt")
	fs.Int("workers", c.Workers, "Concurrent embedding requests")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Require a bearer token on the API")
	fs.String("auth-jwt-secret", c.Auth.JwtSecret, "JWT secret for signing tokens")
	fs.Duration("auth-token-ttl", c.Auth.TokenTTL, "Lifetime of issued tokens")

	// Used later for usage/help
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setSlice := func(name string, dst *[]string) {
		if fs.Changed(name) {
			v, _ := fs.GetStringSlice(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-chat-model", &c.ChatModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setStr("provider-base-url", &c.BaseURL)
	setInt("embed-dim", &c.Dim)

	setStr("data-dir", &c.DataDir)
	setStr("index-backend", &c.Backend)
	setStr("db-url", &c.Database)

	setSlice("ignore-dirs", &c.IgnoreDirs)
	setSlice("include-extensions", &c.IncludeExtensions)
	setBool("scan-all", &c.ScanAll)
	setStr("directory", &c.Directory)
	setStr("label", &c.Label)

	setSlice("scans", &c.Scans)
	setStr("output-label", &c.OutputLabel)
	setStr("index", &c.IndexLabel)

	setInt("top-k", &c.TopK)
	setInt("history-lines", &c.History)
	setInt("workers", &c.Workers)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)

	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-jwt-secret", &c.Auth.JwtSecret)
	if fs.Changed("auth-token-ttl") {
		v, _ := fs.GetDuration("auth-token-ttl")
		c.Auth.TokenTTL = v
	}
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.Provider = "stub"
	c.Location = "us-central1"
	c.Dim = 0
	c.DataDir = "data"
	c.Backend = store.BackendFlat
	c.Port = 8080
	c.TopK = 5
	c.History = 20
	c.Workers = 4
	c.Auth.Enabled = false
	c.Auth.TokenTTL = 24 * time.Hour
}
