package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultDedupTTL        = 300 * time.Second
	DefaultHistoryCap      = 10
	MinHistoryCap          = 4
	MaxHistoryCap          = 10
	DefaultGraphLimit      = 5
	DefaultVectorLimit     = 3
	DefaultModelTimeout    = 60 * time.Second
	DefaultFacetTimeout    = 20 * time.Second
	DefaultJobTimeout      = 3 * time.Minute
	DefaultVectorConnect   = 60 * time.Second
	DefaultGraphAPIVersion = "v22.0"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Model       ModelConfig               `json:"model"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	WhatsApp    WhatsAppConfig            `json:"whatsapp"`
	Qdrant      QdrantConfig              `json:"qdrant"`
	Neo4j       Neo4jConfig               `json:"neo4j"`
	Search      SearchConfig              `json:"search"`
	Payments    PaymentConfig             `json:"payments"`
	Prompts     PromptConfig              `json:"prompts"`
	Pipeline    PipelineConfig            `json:"pipeline"`
	Log         LogConfig                 `json:"log"`
	SSMPrefix   string                    `json:"ssm_prefix" env:"SSM_PREFIX"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// ModelConfig selects which configured provider drives chat, vision and embeddings.
type ModelConfig struct {
	Provider       string  `json:"provider" env:"LLM_PROVIDER"`
	ChatModel      string  `json:"chat_model" env:"LLM_MODEL"`
	VisionModel    string  `json:"vision_model" env:"LLM_VISION_MODEL"`
	EmbeddingModel string  `json:"embedding_model" env:"EMBEDDING_MODEL"`
	EmbeddingURL   string  `json:"embedding_base_url" env:"EMBEDDING_BASE_URL"`
	Temperature    float32 `json:"temperature"`
	TopP           float32 `json:"top_p"`
	MaxToolRounds  int     `json:"max_tool_rounds"`
}

type BasicConfig struct {
	ServerAddress      string `json:"server_address" env:"SERVER_ADDRESS"`
	DatabaseDriver     string `json:"database_driver" env:"LANEASSIST_DB"`
	MinWorkers         int    `json:"min_workers"`
	MaxWorkers         int    `json:"max_workers"`
	QueueSize          int    `json:"queue_size"`
	WorkerIdleTimeout  int    `json:"worker_idle_timeout"`  // minutes
	MediaFileTTL       int    `json:"media_file_ttl"`       // minutes
	MediaCleanInterval int    `json:"media_clean_interval"` // minutes
	MediaDir           string `json:"media_dir"`
	InvoiceDir         string `json:"invoice_dir"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" env:"VALKEY_HOST"`
	Port     int    `json:"port" env:"VALKEY_PORT"`
	Username string `json:"username"`
	Password string `json:"password" env:"VALKEY_PASSWORD"`
	DB       int    `json:"db"`
}

type WhatsAppConfig struct {
	APIVersion    string `json:"api_version"`
	BaseURL       string `json:"base_url"`
	PhoneNumberID string `json:"phone_number_id" env:"PHONE_NUMBER_ID"`
	AccessToken   string `json:"access_token" env:"WHATSAPP_ACCESS_TOKEN"`
	VerifyToken   string `json:"verify_token" env:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret     string `json:"app_secret" env:"WHATSAPP_APP_SECRET"`
}

type QdrantConfig struct {
	Host       string `json:"host" env:"QDRANT_HOST"`
	Port       int    `json:"port" env:"QDRANT_PORT"`
	APIKey     string `json:"api_key" env:"QDRANT_API_KEY"`
	UseTLS     bool   `json:"use_tls"`
	Collection string `json:"collection"`
	Limit      int    `json:"limit"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" env:"NEO4J_URI"`
	Username string `json:"username" env:"NEO4J_USER"`
	Password string `json:"password" env:"NEO4J_PASSWORD"`
	Limit    int    `json:"limit"`
}

type SearchConfig struct {
	GoogleAPIKey   string `json:"google_api_key" env:"GOOGLE_API_KEY"`
	GoogleEngineID string `json:"google_search_engine_id" env:"GOOGLE_SEARCH_ENGINE_ID"`
	MaxResults     int    `json:"max_results"`
	RateLimit      int    `json:"rate_limit"` // calls per minute per user
}

// PaymentConfig holds the paybill routing numbers handed to customers.
type PaymentConfig struct {
	MpesaPaybill  string `json:"mpesa_paybill" env:"MPESA_PAYBILL"`
	AirtelPaybill string `json:"airtel_paybill" env:"AIRTEL_PAYBILL"`
	TkashPaybill  string `json:"tkash_paybill" env:"TKASH_PAYBILL"`
	CardLinkNote  string `json:"card_link_note"`
}

type PromptConfig struct {
	BusinessPath string `json:"business_path"`
	ConsumerPath string `json:"consumer_path"`
}

type PipelineConfig struct {
	DedupTTLSeconds   int `json:"dedup_ttl_seconds"`
	HistoryCap        int `json:"history_cap"`
	HistoryTTLSeconds int `json:"history_ttl_seconds"`
	GraphLimit        int `json:"graph_limit"`
	ModelTimeoutSec   int `json:"model_timeout_seconds"`
	FacetTimeoutSec   int `json:"facet_timeout_seconds"`
	JobTimeoutSec     int `json:"job_timeout_seconds"`
	WebRateLimit      int `json:"web_rate_limit"` // web chat requests per minute per user
}

type LogConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

// Load reads configuration from the provided path (defaults to config.json),
// then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployments are allowed
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults(filepath.Dir(absPath))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.DatabaseDriver == "" {
		c.BasicConfig.DatabaseDriver = "sqlite3"
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = 2
	}
	if c.BasicConfig.MaxWorkers <= 0 {
		c.BasicConfig.MaxWorkers = 8
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 128
	}
	if c.BasicConfig.MediaDir == "" {
		c.BasicConfig.MediaDir = "media_files"
	}
	if c.BasicConfig.InvoiceDir == "" {
		c.BasicConfig.InvoiceDir = "invoices"
	}
	for _, dir := range []*string{&c.BasicConfig.MediaDir, &c.BasicConfig.InvoiceDir} {
		if !filepath.IsAbs(*dir) {
			*dir = filepath.Join(baseDir, *dir)
		}
	}
	for name, db := range c.Databases {
		if (name == "sqlite" || name == "sqlite3") && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(baseDir, db.DSN)
			c.Databases[name] = db
		}
	}

	if c.Model.Temperature <= 0 {
		c.Model.Temperature = 0.1
	}
	if c.Model.TopP <= 0 {
		c.Model.TopP = 0.95
	}
	if c.Model.MaxToolRounds <= 0 {
		c.Model.MaxToolRounds = 5
	}

	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = DefaultGraphAPIVersion
	}
	if c.WhatsApp.BaseURL == "" {
		c.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "autoparts"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Limit <= 0 {
		c.Qdrant.Limit = DefaultVectorLimit
	}
	if c.Neo4j.Limit <= 0 {
		c.Neo4j.Limit = DefaultGraphLimit
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 3
	}
	if c.Search.RateLimit <= 0 {
		c.Search.RateLimit = 3
	}

	p := &c.Pipeline
	if p.HistoryCap <= 0 {
		p.HistoryCap = DefaultHistoryCap
	}
	if p.HistoryCap < MinHistoryCap {
		p.HistoryCap = MinHistoryCap
	}
	if p.HistoryCap > MaxHistoryCap {
		p.HistoryCap = MaxHistoryCap
	}
	if p.GraphLimit <= 0 {
		p.GraphLimit = c.Neo4j.Limit
	}
	if p.WebRateLimit <= 0 {
		p.WebRateLimit = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	if c.Model.Provider == "" {
		return errors.New("model.provider must be configured")
	}
	if _, ok := c.Providers[c.Model.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", c.Model.Provider)
	}
	if _, ok := c.Databases[c.BasicConfig.DatabaseDriver]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.DatabaseDriver)
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return errors.New("max_workers must be >= min_workers")
	}
	return nil
}

func (c *Config) DedupTTL() time.Duration {
	return secondsOr(c.Pipeline.DedupTTLSeconds, DefaultDedupTTL)
}

func (c *Config) HistoryTTL() time.Duration {
	return secondsOr(c.Pipeline.HistoryTTLSeconds, 0)
}

func (c *Config) ModelTimeout() time.Duration {
	return secondsOr(c.Pipeline.ModelTimeoutSec, DefaultModelTimeout)
}

func (c *Config) FacetTimeout() time.Duration {
	return secondsOr(c.Pipeline.FacetTimeoutSec, DefaultFacetTimeout)
}

func (c *Config) JobTimeout() time.Duration {
	return secondsOr(c.Pipeline.JobTimeoutSec, DefaultJobTimeout)
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}
