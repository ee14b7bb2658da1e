package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/veilwork/flowbridge/internal/credentials"
	"github.com/veilwork/flowbridge/internal/vectorstore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Credentials CredentialsConfig `json:"credentials"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	Wallet      WalletConfig      `json:"wallet"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// CredentialsConfig mirrors the connector's credential options. Strategy
// selection follows the field precedence documented on the resolver.
type CredentialsConfig struct {
	UseEnvironmentVariables *bool               `json:"use_environment_variables"`
	ProfileName             string              `json:"credentials_profile_name"`
	AccessKey               string              `json:"access_key"`
	SecretKey               string              `json:"secret_key"`
	SessionToken            string              `json:"session_token"`
	Region                  string              `json:"region"`
	EnvKeys                 credentials.EnvKeys `json:"env_keys"`
}

// UseEnv reports the effective value of use_environment_variables; it
// defaults to true when the field is absent.
func (c CredentialsConfig) UseEnv() bool {
	return c.UseEnvironmentVariables == nil || *c.UseEnvironmentVariables
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint_url"`
	ModelID   string `json:"model_id"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"embedding_dimension"`
}

type VectorStoreConfig struct {
	Backend          string                   `json:"backend"` // "pgvector" or "qdrant"
	TableName        string                   `json:"table_name"`
	DistanceStrategy string                   `json:"distance_strategy"`
	Postgres         vectorstore.PGConfig     `json:"postgres"`
	Qdrant           vectorstore.QdrantConfig `json:"qdrant"`
}

type WalletConfig struct {
	Location string `json:"wallet_location"`
}

// DefaultEnvKeys follows the AWS naming convention the original connector
// documents. The resolver treats these as opaque keys, so deployments can
// point them anywhere.
func DefaultEnvKeys() credentials.EnvKeys {
	return credentials.EnvKeys{
		AccessKey:    "AWS_ACCESS_KEY_ID",
		SecretKey:    "AWS_SECRET_ACCESS_KEY",
		SessionToken: "AWS_SESSION_TOKEN",
		Region:       "AWS_DEFAULT_REGION",
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultEnvKeys()
	if c.Credentials.EnvKeys.AccessKey == "" {
		c.Credentials.EnvKeys.AccessKey = def.AccessKey
	}
	if c.Credentials.EnvKeys.SecretKey == "" {
		c.Credentials.EnvKeys.SecretKey = def.SecretKey
	}
	if c.Credentials.EnvKeys.SessionToken == "" {
		c.Credentials.EnvKeys.SessionToken = def.SessionToken
	}
	if c.Credentials.EnvKeys.Region == "" {
		c.Credentials.EnvKeys.Region = def.Region
	}
	if c.VectorStore.Backend == "" {
		c.VectorStore.Backend = "pgvector"
	}
	if c.VectorStore.DistanceStrategy == "" {
		c.VectorStore.DistanceStrategy = "cosine"
	}
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate surfaces configuration problems at connector setup time rather
// than at first use.
func (c *Config) Validate() error {
	if c.Embedding.ModelID == "" {
		return fmt.Errorf("config: model_id is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding_dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.VectorStore.TableName == "" {
		return fmt.Errorf("config: table_name is required")
	}
	if !tableNameRe.MatchString(c.VectorStore.TableName) {
		return fmt.Errorf("config: invalid table_name %q", c.VectorStore.TableName)
	}
	if _, err := vectorstore.ParseDistanceStrategy(c.VectorStore.DistanceStrategy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.VectorStore.Backend {
	case "pgvector", "qdrant":
	default:
		return fmt.Errorf("config: unknown vector store backend %q", c.VectorStore.Backend)
	}
	// Half-configured explicit credentials are unusable; fail now, not at
	// first flow execution.
	if !c.Credentials.UseEnv() && c.Credentials.ProfileName == "" {
		if (c.Credentials.AccessKey == "") != (c.Credentials.SecretKey == "") {
			return fmt.Errorf("config: access_key and secret_key must both be set or both be empty")
		}
	}
	return nil
}

// CredentialConfig builds the resolver input, including the environment
// snapshot taken at call time.
func (c *Config) CredentialConfig() credentials.Config {
	return credentials.Config{
		UseEnvironment: c.Credentials.UseEnv(),
		ProfileName:    c.Credentials.ProfileName,
		AccessKey:      c.Credentials.AccessKey,
		SecretKey:      c.Credentials.SecretKey,
		SessionToken:   c.Credentials.SessionToken,
		Region:         c.Credentials.Region,
		EnvKeys:        c.Credentials.EnvKeys,
		Env:            credentials.SnapshotEnv(c.Credentials.EnvKeys),
	}
}
