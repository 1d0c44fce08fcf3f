package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Ollama       OllamaConfig
	Storage      StorageConfig
	Index        IndexConfig
	Retrieval    RetrievalConfig
	Conversation ConversationConfig
	Generation   GenerationConfig
	GenAI        GenAIConfig
	Proxy        ProxyConfig
	Mail         MailConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL    string
	FastModel  string
	DeepModel  string
	EmbedModel string
}

// StorageConfig locates the person directory, profile store and sqlite
// vector indexes. DataDir is resolved once at startup and passed explicitly
// into storage.Open.
type StorageConfig struct {
	DataDir string
}

type IndexConfig struct {
	Backend     string // sqlite | pgvector
	PostgresDSN string
}

type RetrievalConfig struct {
	TopK      int
	Threshold float64
	RAGType   int
}

type ConversationConfig struct {
	// WindowSize is the number of turn pairs kept; the window holds 2*WindowSize entries.
	WindowSize int
}

type GenerationConfig struct {
	Backend   string // ollama | genai | openrouter
	MaxTokens int
}

type GenAIConfig struct {
	APIKey     string
	Model      string
	EmbedModel string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
}

type MailConfig struct {
	CredentialsFile string
	TokenFile       string
	MaxResults      int
	PollInterval    string
}

type LogConfig struct {
	Level string
}

const (
	BackendOllama     = "ollama"
	BackendGenAI      = "genai"
	BackendOpenRouter = "openrouter"

	IndexSQLite   = "sqlite"
	IndexPGVector = "pgvector"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "phi3.5",
			DeepModel:  "llama3.1:8b",
			EmbedModel: "all-minilm",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Index: IndexConfig{
			Backend: IndexSQLite,
		},
		Retrieval: RetrievalConfig{
			TopK:      10,
			Threshold: 0.5,
			RAGType:   1,
		},
		Conversation: ConversationConfig{
			WindowSize: 3,
		},
		Generation: GenerationConfig{
			Backend:   BackendOllama,
			MaxTokens: 4096,
		},
		GenAI: GenAIConfig{
			Model:      "gemini-2.0-flash",
			EmbedModel: "gemini-embedding-001",
		},
		Proxy: ProxyConfig{
			DefaultModel: "meta-llama/llama-3.1-8b-instruct",
		},
		Mail: MailConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
			MaxResults:      10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.applyd.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/applyd/config.json
// and secrets fall back to a 0600 secrets file under the data directory.
//
// Environment variables (APPLYD_*) override backend values on all platforms.
// Variables from .env never override ones already set in the process.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "applyd"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applyKeychain(&cfg, kc)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyKeychain fills secrets that are still empty from the platform store.
func applyKeychain(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		account := strings.ReplaceAll(s.key, ".", "_")
		if key, err := kc.Get(keychainService, account); err == nil && key != "" {
			s.apply(cfg, key)
		}
	}
}

func validate(cfg Config) error {
	if cfg.Retrieval.RAGType != 1 && cfg.Retrieval.RAGType != 2 {
		return fmt.Errorf("invalid config: retrieval.rag_type must be 1 or 2, got %d", cfg.Retrieval.RAGType)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("invalid config: retrieval.top_k must be positive, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Conversation.WindowSize <= 0 {
		return fmt.Errorf("invalid config: conversation.window_size must be positive, got %d", cfg.Conversation.WindowSize)
	}

	switch cfg.Index.Backend {
	case IndexSQLite:
	case IndexPGVector:
		if cfg.Index.PostgresDSN == "" {
			return missingSecret("index.postgres_dsn", "APPLYD_INDEX_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid config: unknown index.backend %q", cfg.Index.Backend)
	}

	switch cfg.Generation.Backend {
	case BackendOllama:
	case BackendGenAI:
		if cfg.GenAI.APIKey == "" {
			return missingSecret("genai.api_key", "APPLYD_GENAI_API_KEY")
		}
	case BackendOpenRouter:
		if cfg.Proxy.OpenRouterAPIKey == "" {
			return missingSecret("proxy.openrouter_api_key", "APPLYD_OPENROUTER_API_KEY")
		}
	default:
		return fmt.Errorf("invalid config: unknown generation.backend %q", cfg.Generation.Backend)
	}
	return nil
}

func missingSecret(key, env string) error {
	account := strings.ReplaceAll(key, ".", "_")
	return fmt.Errorf("missing required config: %s. Set it via environment variable %s%s",
		key, env, secretHint(account))
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
