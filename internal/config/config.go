package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	// IndexProvider selects the vector backend: pgvector or qdrant.
	IndexProvider    string `yaml:"indexProvider"`
	QdrantAddr       string `yaml:"qdrantAddr"`
	QdrantCollection string `yaml:"qdrantCollection"`

	OllamaBaseURL  string `yaml:"ollamaBaseURL"`
	EmbeddingModel string `yaml:"embeddingModel"`
	EmbeddingDim   int    `yaml:"embeddingDim"`

	// GenerationProvider selects the chat backend: gemini, ollama or
	// openai-compat.
	GenerationProvider string `yaml:"generationProvider"`
	GenerationModel    string `yaml:"generationModel"`
	GeminiAPIKey       string `yaml:"geminiAPIKey"`
	OpenAICompatURL    string `yaml:"openAICompatURL"`
	OpenAICompatKey    string `yaml:"openAICompatKey"`

	OpenAIAPIKey           string `yaml:"openAIAPIKey"`
	OpenAIBaseURL          string `yaml:"openAIBaseURL"`
	TranscriptionModel     string `yaml:"transcriptionModel"`
	CoverGenerationModel   string `yaml:"coverGenerationModel"`
	CoverGenerationEnabled bool   `yaml:"coverGenerationEnabled"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	AIRequestsPerMin int    `yaml:"aiRequestsPerMin"`

	PromptDir      string   `yaml:"promptDir"`
	MaxUploadBytes int64    `yaml:"maxUploadBytes"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		cfg.QdrantAddr = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_COMPAT_KEY"); v != "" {
		cfg.OpenAICompatKey = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LIBRARY_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("LIBRARY_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.IndexProvider == "" {
		cfg.IndexProvider = "pgvector"
	}
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "gemini"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.CoverGenerationModel == "" {
		cfg.CoverGenerationModel = "dall-e-3"
	}
	if cfg.PromptDir == "" {
		cfg.PromptDir = "prompts"
	}
	if cfg.AIRequestsPerMin == 0 {
		cfg.AIRequestsPerMin = 30
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	switch cfg.IndexProvider {
	case "pgvector":
	case "qdrant":
		if cfg.QdrantAddr == "" {
			return errors.New("config: qdrantAddr is required when indexProvider is qdrant")
		}
		if cfg.QdrantCollection == "" {
			return errors.New("config: qdrantCollection is required when indexProvider is qdrant")
		}
	default:
		return fmt.Errorf("config: unknown indexProvider %q (pgvector or qdrant)", cfg.IndexProvider)
	}
	if cfg.OllamaBaseURL == "" {
		return errors.New("config: ollamaBaseURL is required (set in config.yaml)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml)")
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml)")
	}
	switch cfg.GenerationProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
		}
	case "ollama":
	case "openai-compat":
		if cfg.OpenAICompatURL == "" {
			return errors.New("config: openAICompatURL is required when generationProvider is openai-compat")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q (gemini, ollama or openai-compat)", cfg.GenerationProvider)
	}
	if cfg.OpenAIAPIKey == "" {
		return errors.New("config: openAIAPIKey is required (set in config.yaml or OPENAI_API_KEY)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml)")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
