package config

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the memory service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	Mode string

	// Primary store backend ("sqlite", "postgres", or "mongo") and its DSN.
	PrimaryStoreType string
	DBURL            string

	// Run primary-store migrations on startup.
	DatastoreMigrateAtStart bool

	// Redis (cache backend).
	RedisURL string

	// Cache backend type: "ristretto" (in-process), "redis", or "none".
	CacheType     string
	CacheEpochTTL time.Duration

	// RistrettoMaxCost bounds the in-process array cache (bytes, approximate).
	RistrettoMaxCost int64

	// Dense-vector index backend shared by the nine dense spaces and the HDC space:
	// "sqlitevec", "pgvector", or "qdrant".
	DenseIndexType string

	// Run dense-index migrations/collection bootstrap on startup.
	DenseIndexMigrateAtStart bool

	// pgvector (reuses DBURL when PrimaryStoreType == "postgres"; otherwise its own DSN).
	PgvectorURL string

	// Qdrant
	QdrantHost             string
	QdrantPort             int
	QdrantCollectionPrefix string
	QdrantAPIKey           string
	QdrantUseTLS           bool
	QdrantStartupTimeout   time.Duration

	// SQLite-vec database file (used when DenseIndexType == "sqlitevec").
	SQLiteVecPath string

	// Embedder backend used for every embedding space that isn't explicitly
	// overridden: "none", "local", or "openai".
	EmbedType string

	// OpenAI
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Retrieval pipeline defaults.
	RetrievalDefaultTopK       int
	RetrievalDefaultFusion     string // "rrf" or "weighted"
	RetrievalRRFConstant       float64
	RetrievalMaxCandidatesSpan int
	RetrievalSpaceTimeout      time.Duration

	// Tier migration background scheduler: demotes stale hot/warm arrays.
	TierMigrationEnabled  bool
	TierMigrationInterval time.Duration
	TierMigrationBatchSize int
	TierWarmAfter         time.Duration
	TierColdAfter         time.Duration

	// Purpose-discovery background scheduler.
	PurposeDiscoveryEnabled       bool
	PurposeDiscoveryInterval      time.Duration
	PurposeDiscoveryMinClusterSz  int
	PurposeDiscoveryBatchSize     int
	PurposeDiscoverySimThreshold  float64

	// Prometheus
	PrometheusURL string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=memory-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or MEMORY_SERVICE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Security
	APIKeys map[string]string // key value → clientId
	// AdminClients is a comma-separated list of client IDs (as resolved via
	// APIKeys) granted the admin role; every other resolved client gets the
	// auditor role.
	AdminClients string

	// Encryption
	EncryptionProviders string
	// EncryptionVaultTransitKey names the Vault Transit key used to wrap/unwrap
	// the "vault" provider's DEKs.
	EncryptionVaultTransitKey string
	// EncryptionVaultWrappedDEKs is a comma-separated list of base64 Vault Transit
	// ciphertexts; the first is primary, the rest are legacy (decrypt-only).
	EncryptionVaultWrappedDEKs string
	// EncryptionKMSKeyID is the AWS KMS key ID or ARN used by the "kms" provider.
	EncryptionKMSKeyID string
	// EncryptionKMSWrappedDEKs is a comma-separated list of base64 KMS ciphertext
	// blobs; the first is primary, the rest are legacy (decrypt-only).
	EncryptionKMSWrappedDEKs string
	// EncryptionKey is a comma-separated list of AES keys (16, 24 or 32 bytes,
	// hex or base64) for the "dek"
	// provider. The first key is primary (used for new encryptions); subsequent
	// keys are legacy (decryption-only, for zero-downtime key rotation).
	EncryptionKey string

	// Body size limit (bytes)
	MaxBodySize int64

	// Temporary file directory. Empty uses platform default temp directory.
	TempDir string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Admin
	RequireJustification bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                         ModeProd,
		PrimaryStoreType:             "sqlite",
		DatastoreMigrateAtStart:      true,
		CacheType:                    "ristretto",
		CacheEpochTTL:                10 * time.Minute,
		RistrettoMaxCost:             64 * 1024 * 1024, // 64 MiB
		DenseIndexType:               "sqlitevec",
		DenseIndexMigrateAtStart:     true,
		SQLiteVecPath:                "memory-service-vec.db",
		EmbedType:                    "local",
		OpenAIModelName:              "text-embedding-3-small",
		OpenAIBaseURL:                "https://api.openai.com/v1",
		RetrievalDefaultTopK:         20,
		RetrievalDefaultFusion:       "rrf",
		RetrievalRRFConstant:         60,
		RetrievalMaxCandidatesSpan:   200,
		RetrievalSpaceTimeout:        2 * time.Second,
		TierMigrationEnabled:         true,
		TierMigrationInterval:        10 * time.Minute,
		TierMigrationBatchSize:       500,
		TierWarmAfter:                24 * time.Hour,
		TierColdAfter:                7 * 24 * time.Hour,
		PurposeDiscoveryEnabled:      true,
		PurposeDiscoveryInterval:     15 * time.Minute,
		PurposeDiscoveryMinClusterSz: 5,
		PurposeDiscoveryBatchSize:    2000,
		PurposeDiscoverySimThreshold: 0.72,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       false,
		},
		MaxBodySize:          20 * 1024 * 1024,
		DrainTimeout:         30,
		DBMaxOpenConns:       25,
		DBMaxIdleConns:       5,
		QdrantHost:           "localhost",
		QdrantPort:           6334,
		QdrantCollectionPrefix: "memory-service",
		QdrantStartupTimeout: 30 * time.Second,
		EncryptionProviders:  "plain",
	}
}

// ResolvedTempDir returns the configured temp directory or the platform default.
func (c *Config) ResolvedTempDir() string {
	if c == nil {
		return os.TempDir()
	}
	if dir := strings.TrimSpace(c.TempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

// QdrantAddress returns the host:port gRPC endpoint for the Qdrant backend.
func (c *Config) QdrantAddress() string {
	return fmt.Sprintf("%s:%d", c.QdrantHost, c.QdrantPort)
}

// QdrantCollectionName returns the per-space collection name, namespaced by
// QdrantCollectionPrefix so multiple deployments can share a cluster.
func (c *Config) QdrantCollectionName(space string) string {
	return fmt.Sprintf("%s_%s", c.QdrantCollectionPrefix, space)
}

// LoadAPIKeysFromEnv scans the process environment for
// MEMORY_SERVICE_API_KEYS_<CLIENT_ID>=<key>[,<key>...] and returns a map from
// key value to client ID. Comma-separated values let one client hold more
// than one valid key (rotation without downtime).
func LoadAPIKeysFromEnv() map[string]string {
	const prefix = "MEMORY_SERVICE_API_KEYS_"
	result := map[string]string{}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		eqIdx := strings.IndexByte(env, '=')
		if eqIdx < 0 {
			continue
		}
		clientID := strings.ToLower(strings.TrimSpace(env[len(prefix):eqIdx]))
		if clientID == "" {
			continue
		}
		for _, key := range strings.Split(env[eqIdx+1:], ",") {
			keyValue := strings.TrimSpace(key)
			if keyValue == "" {
				continue
			}
			result[keyValue] = clientID
		}
	}
	return result
}

// DecodeEncryptionKey supports both hex and base64 encoded 16/24/32-byte AES keys.
func DecodeEncryptionKey(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	if b, err := hex.DecodeString(value); err == nil && validAESKeyLen(len(b)) {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(value); err == nil && validAESKeyLen(len(b)) {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(value); err == nil && validAESKeyLen(len(b)) {
		return b, nil
	}
	return nil, fmt.Errorf("key must be hex or base64 encoded 16/24/32-byte value")
}

// DecodeEncryptionKeysCSV decodes a comma-separated list of hex- or
// base64-encoded AES keys. The first entry is the primary key; the rest are
// legacy keys kept around for decryption during key rotation.
func DecodeEncryptionKeysCSV(raw string) ([][]byte, error) {
	parts := strings.Split(raw, ",")
	result := make([][]byte, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, err := DecodeEncryptionKey(part)
		if err != nil {
			return nil, err
		}
		result = append(result, key)
	}
	return result, nil
}

func validAESKeyLen(n int) bool {
	return n == 16 || n == 24 || n == 32
}
