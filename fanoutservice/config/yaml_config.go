// --- File: fanoutservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlStoreConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
}

type YamlRedisConfig struct {
	URL       string `yaml:"url"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type YamlCacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	TTL     string `yaml:"ttl"`
}

type YamlGatewayConfig struct {
	Provider     string `yaml:"provider"`
	MaxBatchSize int    `yaml:"max_batch_size"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	Production bool   `yaml:"production"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (APNs key, VAPID private key) only come from the environment.
type YamlConfig struct {
	ProjectID              string            `yaml:"project_id"`
	ListenAddr             string            `yaml:"listen_addr"`
	MaxDevicesPerUser      int               `yaml:"max_devices_per_user"`
	PruneInvalidTokens     bool              `yaml:"prune_invalid_tokens"`
	TopicID                string            `yaml:"topic_id"`
	SubscriptionID         string            `yaml:"subscription_id"`
	SubscriptionDLQTopicID string            `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int               `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig    `yaml:"cors"`
	StoreConfig            YamlStoreConfig   `yaml:"store"`
	RedisConfig            YamlRedisConfig   `yaml:"redis"`
	CacheConfig            YamlCacheConfig   `yaml:"cache"`
	GatewayConfig          YamlGatewayConfig `yaml:"gateway"`
	APNSConfig             YamlAPNSConfig    `yaml:"apns"`
	VapidConfig            YamlVapidConfig   `yaml:"vapid"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var ttl time.Duration
	if baseCfg.CacheConfig.TTL != "" {
		d, err := time.ParseDuration(baseCfg.CacheConfig.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid cache ttl %q: %w", baseCfg.CacheConfig.TTL, err)
		}
		ttl = d
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		MaxDevicesPerUser:  baseCfg.MaxDevicesPerUser,
		PruneInvalidTokens: baseCfg.PruneInvalidTokens,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Store: StoreConfig{
			Backend:    baseCfg.StoreConfig.Backend,
			Collection: baseCfg.StoreConfig.Collection,
		},
		Redis: RedisConfig{
			URL:       baseCfg.RedisConfig.URL,
			Addr:      baseCfg.RedisConfig.Addr,
			Password:  baseCfg.RedisConfig.Password,
			DB:        baseCfg.RedisConfig.DB,
			KeyPrefix: baseCfg.RedisConfig.KeyPrefix,
		},
		Cache: CacheConfig{
			Enabled: baseCfg.CacheConfig.Enabled,
			TTL:     ttl,
		},
		Gateway: GatewayConfig{
			Provider:     baseCfg.GatewayConfig.Provider,
			MaxBatchSize: baseCfg.GatewayConfig.MaxBatchSize,
		},
		APNS: APNSConfig{
			KeyID:      baseCfg.APNSConfig.KeyID,
			TeamID:     baseCfg.APNSConfig.TeamID,
			BundleID:   baseCfg.APNSConfig.BundleID,
			Production: baseCfg.APNSConfig.Production,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"store_backend", cfg.Store.Backend,
		"gateway_provider", cfg.Gateway.Provider,
	)

	return cfg, nil
}
