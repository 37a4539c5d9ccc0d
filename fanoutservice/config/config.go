// --- File: fanoutservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	BackendRedis     = "redis"
	BackendFirestore = "firestore"

	ProviderFCM  = "fcm"
	ProviderAPNS = "apns"
	ProviderWeb  = "web"

	fcmMulticastLimit = 500
)

type StoreConfig struct {
	Backend string
	// Collection is the Firestore root collection for per-user device sets.
	Collection string
}

type RedisConfig struct {
	URL       string
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// CacheConfig enables the Redis read-aside cache in front of the Firestore backend.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type GatewayConfig struct {
	Provider     string
	MaxBatchSize int
}

type APNSConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	P8Key      string
	Production bool
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID           string
	ListenAddr          string
	FirebaseDatabaseURL string

	// MaxDevicesPerUser bounds registrations per user; 0 means unbounded.
	MaxDevicesPerUser  int
	PruneInvalidTokens bool

	CorsConfig middleware.CorsConfig
	Store      StoreConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Gateway    GatewayConfig
	APNS       APNSConfig
	Vapid      VapidConfig

	// Optional asynchronous ingestion; disabled when SubscriptionID is empty.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// IngestionEnabled reports whether the Pub/Sub send path should run.
func (c *Config) IngestionEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}
	overrideInt := func(key string, apply func(int)) {
		override(key, func(val string) {
			if n, err := strconv.Atoi(val); err == nil {
				apply(n)
			} else {
				logger.Warn("Ignoring non-integer env value", "key", key)
			}
		})
	}
	overrideBool := func(key string, apply func(bool)) {
		override(key, func(val string) {
			if b, err := strconv.ParseBool(val); err == nil {
				apply(b)
			} else {
				logger.Warn("Ignoring non-boolean env value", "key", key)
			}
		})
	}

	// 1. Apply Environment Overrides
	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("FIREBASE_DATABASE_URL", func(v string) { cfg.FirebaseDatabaseURL = v })
	overrideInt("MAX_DEVICES_PER_USER", func(n int) { cfg.MaxDevicesPerUser = n })
	overrideBool("PRUNE_INVALID_TOKENS", func(b bool) { cfg.PruneInvalidTokens = b })

	// Store
	override("STORE_BACKEND", func(v string) { cfg.Store.Backend = strings.ToLower(v) })
	override("FIRESTORE_COLLECTION", func(v string) { cfg.Store.Collection = v })

	// Redis Overrides (RURL is the legacy name)
	override("RURL", func(v string) { cfg.Redis.URL = v })
	override("REDIS_URL", func(v string) { cfg.Redis.URL = v })
	override("REDIS_ADDR", func(v string) { cfg.Redis.Addr = v })
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	overrideInt("REDIS_DB", func(n int) { cfg.Redis.DB = n })
	override("REDIS_KEY_PREFIX", func(v string) { cfg.Redis.KeyPrefix = v })

	// Cache
	overrideBool("CACHE_ENABLED", func(b bool) { cfg.Cache.Enabled = b })
	override("CACHE_TTL", func(v string) {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		} else {
			logger.Warn("Ignoring invalid duration", "key", "CACHE_TTL")
		}
	})

	// Gateway
	override("GATEWAY_PROVIDER", func(v string) { cfg.Gateway.Provider = strings.ToLower(v) })
	overrideInt("GATEWAY_MAX_BATCH_SIZE", func(n int) { cfg.Gateway.MaxBatchSize = n })

	override("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	override("APNS_P8_KEY", func(v string) { cfg.APNS.P8Key = v })
	overrideBool("APNS_PRODUCTION", func(b bool) { cfg.APNS.Production = b })

	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	// Ingestion
	override("TOPIC_ID", func(v string) { cfg.TopicID = v })
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	overrideInt("NUM_PIPELINE_WORKERS", func(n int) {
		if n > 0 {
			cfg.NumPipelineWorkers = n
		}
	})

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendRedis
	}
	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = ProviderFCM
	}
	if cfg.Gateway.MaxBatchSize <= 0 {
		cfg.Gateway.MaxBatchSize = fcmMulticastLimit
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	// 3. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case BackendRedis:
		if cfg.Redis.URL == "" && cfg.Redis.Addr == "" {
			return fmt.Errorf("redis url or addr is required for the redis backend (set via YAML or REDIS_URL env var)")
		}
	case BackendFirestore:
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.Cache.Enabled {
		if cfg.Store.Backend != BackendFirestore {
			return fmt.Errorf("cache is only supported with the firestore backend, got %q", cfg.Store.Backend)
		}
		if cfg.Redis.URL == "" && cfg.Redis.Addr == "" {
			return fmt.Errorf("redis url or addr is required when the cache is enabled (set via YAML or REDIS_URL env var)")
		}
	}

	switch cfg.Gateway.Provider {
	case ProviderFCM:
		if cfg.Gateway.MaxBatchSize > fcmMulticastLimit {
			return fmt.Errorf("max batch size %d exceeds the fcm multicast limit of %d", cfg.Gateway.MaxBatchSize, fcmMulticastLimit)
		}
	case ProviderAPNS:
		if cfg.APNS.P8Key == "" || cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" {
			return fmt.Errorf("apns provider requires key_id, team_id, bundle_id and p8_key")
		}
	case ProviderWeb:
		if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
			return fmt.Errorf("web provider requires vapid public and private keys")
		}
	default:
		return fmt.Errorf("unknown gateway provider %q", cfg.Gateway.Provider)
	}

	needsProject := cfg.Store.Backend == BackendFirestore || cfg.Gateway.Provider == ProviderFCM || cfg.IngestionEnabled()
	if needsProject && cfg.ProjectID == "" {
		return fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.MaxDevicesPerUser < 0 {
		return fmt.Errorf("max_devices_per_user must not be negative")
	}
	return nil
}
