package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "APPLYD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "APPLYD_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "APPLYD_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "ollama.deep_model", typ: kString, env: "APPLYD_OLLAMA_DEEP_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.DeepModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.DeepModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "APPLYD_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "APPLYD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "index.backend", typ: kString, env: "APPLYD_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "index.postgres_dsn", typ: kString, env: "APPLYD_INDEX_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Index.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.PostgresDSN },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "APPLYD_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.threshold", typ: kFloat, env: "APPLYD_RETRIEVAL_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.Threshold },
	},
	{
		key: "retrieval.rag_type", typ: kInt, env: "APPLYD_RETRIEVAL_RAG_TYPE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RAGType = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.RAGType },
	},
	{
		key: "conversation.window_size", typ: kInt, env: "APPLYD_CONVERSATION_WINDOW_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Conversation.WindowSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.WindowSize },
	},
	{
		key: "generation.backend", typ: kString, env: "APPLYD_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "generation.max_tokens", typ: kInt, env: "APPLYD_GENERATION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxTokens },
	},
	{
		key: "genai.api_key", typ: kString, env: "APPLYD_GENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.GenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.GenAI.APIKey },
	},
	{
		key: "genai.model", typ: kString, env: "APPLYD_GENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.GenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.GenAI.Model },
	},
	{
		key: "genai.embed_model", typ: kString, env: "APPLYD_GENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.GenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.GenAI.EmbedModel },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "APPLYD_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.default_model", typ: kString, env: "APPLYD_PROXY_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.DefaultModel },
	},
	{
		key: "mail.credentials_file", typ: kString, env: "APPLYD_MAIL_CREDENTIALS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Mail.CredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.CredentialsFile },
	},
	{
		key: "mail.token_file", typ: kString, env: "APPLYD_MAIL_TOKEN_FILE",
		apply:   func(cfg *Config, v any) { cfg.Mail.TokenFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.TokenFile },
	},
	{
		key: "mail.max_results", typ: kInt, env: "APPLYD_MAIL_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Mail.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Mail.MaxResults },
	},
	{
		key: "mail.poll_interval", typ: kString, env: "APPLYD_MAIL_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Mail.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "APPLYD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
