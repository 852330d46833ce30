// Package config reads the Eagle Access configuration from environment
// variables, with built-in model profiles for known face embedding models.
package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

type Config struct {
	Storage   StorageConfig
	Extractor ExtractorConfig
	Matching  MatchingConfig
	Database  DatabaseConfig
	Models    ModelsConfig
}

type StorageConfig struct {
	UsersFile      string // path to users.json
	EmbeddingsFile string // path to embeddings.json
	AccessLogFile  string // path to access_log.json
}

type ExtractorConfig struct {
	URL          string // face embedding service base URL, defaults to http://localhost:8000
	Model        string // model profile name, defaults to facenet512
	FacePolicy   string // "strict" or "largest", defaults to strict
	MaxImageSize int    // max image dimension before downscaling, defaults to 1920
}

type MatchingConfig struct {
	Metric    string  // cosine, euclidean or manhattan
	Threshold float64 // 0 = use the model profile default for the metric
	HNSW      bool    // enable the in-memory HNSW index for matching
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL (optional; file store is used when empty)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type ModelsConfig struct {
	Models map[string]ModelProfile `yaml:"models"`
}

type ModelProfile struct {
	Dim        int                `yaml:"dim"`
	Thresholds map[string]float64 `yaml:"thresholds"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envString reads an environment variable with a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	return &Config{
		Storage: StorageConfig{
			UsersFile:      envString("EAGLE_USERS_FILE", "users.json"),
			EmbeddingsFile: envString("EAGLE_EMBED_FILE", "embeddings.json"),
			AccessLogFile:  envString("EAGLE_LOG_FILE", "access_log.json"),
		},
		Extractor: ExtractorConfig{
			URL:          envString("EAGLE_EXTRACTOR_URL", "http://localhost:8000"),
			Model:        envString("EAGLE_MODEL", "facenet512"),
			FacePolicy:   envString("EAGLE_FACE_POLICY", "strict"),
			MaxImageSize: envInt("EAGLE_MAX_IMAGE_SIZE", 1920),
		},
		Matching: MatchingConfig{
			Metric:    envString("EAGLE_METRIC", "cosine"),
			Threshold: envFloat("EAGLE_THRESHOLD", 0),
			HNSW:      os.Getenv("EAGLE_HNSW") == "true",
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Models: models,
	}
}

// ModelProfile returns the profile for the configured extraction model.
// Unknown models get a zero profile: dimensionality is then locked by the
// first stored embedding and EAGLE_THRESHOLD must be set explicitly.
func (c *Config) ModelProfile() ModelProfile {
	if p, ok := c.Models.Models[c.Extractor.Model]; ok {
		return p
	}
	return ModelProfile{}
}

// EffectiveThreshold resolves the matching threshold: the explicit
// EAGLE_THRESHOLD wins, otherwise the model profile default for the
// configured metric.
func (c *Config) EffectiveThreshold() float64 {
	if c.Matching.Threshold > 0 {
		return c.Matching.Threshold
	}
	profile := c.ModelProfile()
	return profile.Thresholds[c.Matching.Metric]
}
