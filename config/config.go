package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Database struct {
		ConnectionString string `yaml:"connection_string" env:"DATABASE_URL"`
		MaxConns         int    `yaml:"max_conns" env:"DATABASE_MAX_CONNS"`
	} `yaml:"database"`
	Ollama struct {
		BaseURL   string `yaml:"base_url" env:"OLLAMA_URL"`
		ChatModel string `yaml:"chat_model" env:"OLLAMA_CHAT_MODEL"`
	} `yaml:"ollama"`
	Embeddings struct {
		TextModel   string `yaml:"text_model" env:"OLLAMA_EMBEDDING_MODEL"`
		VisionModel string `yaml:"vision_model" env:"OLLAMA_VISION_MODEL"`
	} `yaml:"embeddings"`
	Processing struct {
		ChunkSize    int `yaml:"chunk_size" env:"CHUNK_SIZE"`
		ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	} `yaml:"processing"`
	Query struct {
		RetrievalTopK  int           `yaml:"retrieval_top_k" env:"RETRIEVAL_TOP_K"`
		RerankTopK     int           `yaml:"rerank_top_k" env:"RERANK_TOP_K"`
		Temperature    float32       `yaml:"temperature" env:"QUERY_TEMPERATURE"`
		PathTimeout    time.Duration `yaml:"path_timeout" env:"PATH_TIMEOUT"`
		SimilarityOnly bool          `yaml:"similarity_only_rerank" env:"SIMILARITY_ONLY_RERANK"`
	} `yaml:"query"`
	Server struct {
		HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	} `yaml:"server"`
	Paths struct {
		DocumentsDir string `yaml:"documents_dir" env:"DOCUMENTS_DIR"`
		ImageDir     string `yaml:"image_dir" env:"IMAGE_DIR"`
	} `yaml:"paths"`
}

// Load loads configuration with the following precedence (last wins):
// built-in defaults, ~/.insight-ai/config.yaml, .env file, environment.
func Load() (*Config, error) {
	cfg := Default()

	configPath := filepath.Join(os.Getenv("HOME"), ".insight-ai", "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save() error {
	configDir := filepath.Join(os.Getenv("HOME"), ".insight-ai")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Database.ConnectionString = "postgres://postgres@localhost/postgres?sslmode=disable"
	cfg.Database.MaxConns = 10
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.ChatModel = ""
	cfg.Embeddings.TextModel = "nomic-embed-text"
	cfg.Embeddings.VisionModel = "llava"
	cfg.Processing.ChunkSize = 512
	cfg.Processing.ChunkOverlap = 50
	cfg.Query.RetrievalTopK = 10
	cfg.Query.RerankTopK = 5
	cfg.Query.Temperature = 0.3
	cfg.Query.PathTimeout = 4 * time.Minute
	cfg.Server.HTTPPort = 8080

	homeDir := os.Getenv("HOME")
	cfg.Paths.DocumentsDir = filepath.Join(homeDir, "documents")
	cfg.Paths.ImageDir = filepath.Join(os.TempDir(), "insight-ai-images")

	return cfg
}
