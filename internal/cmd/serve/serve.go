// Package serve implements the "serve" sub-command: start the HTTP API
// server, its background schedulers, and (optionally) a dedicated
// management listener, then block until shutdown is requested.
package serve

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/registry/arraycache"
	"github.com/chirino/memory-service/internal/registry/denseindex"
	"github.com/chirino/memory-service/internal/registry/embed"
	"github.com/chirino/memory-service/internal/registry/encrypt"
	"github.com/chirino/memory-service/internal/registry/primarystore"

	// Import all backend plugins to trigger their init() registration.
	_ "github.com/chirino/memory-service/internal/plugin/arraycache/noop"
	_ "github.com/chirino/memory-service/internal/plugin/arraycache/redis"
	_ "github.com/chirino/memory-service/internal/plugin/arraycache/ristretto"
	_ "github.com/chirino/memory-service/internal/plugin/denseindex/pgvector"
	_ "github.com/chirino/memory-service/internal/plugin/denseindex/qdrant"
	_ "github.com/chirino/memory-service/internal/plugin/denseindex/sqlitevec"
	_ "github.com/chirino/memory-service/internal/plugin/embed/disabled"
	_ "github.com/chirino/memory-service/internal/plugin/embed/local"
	_ "github.com/chirino/memory-service/internal/plugin/embed/openai"
	_ "github.com/chirino/memory-service/internal/plugin/encrypt/awskms"
	_ "github.com/chirino/memory-service/internal/plugin/encrypt/dek"
	_ "github.com/chirino/memory-service/internal/plugin/encrypt/plain"
	_ "github.com/chirino/memory-service/internal/plugin/encrypt/vault"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/gormstore"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/mongo"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/postgres"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/sqlite"
	_ "github.com/chirino/memory-service/internal/plugin/route/system"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory service HTTP API",
		CustomHelpTemplate: cli.CommandHelpTemplate + `NOTES:
   API key authentication is configured via environment variables — one per client ID:
   MEMORY_SERVICE_API_KEYS_<CLIENT_ID>=key1,key2,...

   Example:
   MEMORY_SERVICE_API_KEYS_AGENT_A=secret-key-1
   MEMORY_SERVICE_API_KEYS_AGENT_B=key-one,key-two
`,
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.APIKeys = config.LoadAPIKeysFromEnv()

			// Forward Vault/AWS CLI flags to env vars so the SDKs pick them up.
			for flagName, envVar := range map[string]string{
				"encryption-vault-addr":                "VAULT_ADDR",
				"encryption-vault-token":               "VAULT_TOKEN",
				"encryption-kms-aws-region":            "AWS_REGION",
				"encryption-kms-aws-access-key-id":     "AWS_ACCESS_KEY_ID",
				"encryption-kms-aws-secret-access-key": "AWS_SECRET_ACCESS_KEY",
			} {
				if v := cmd.String(flagName); v != "" {
					os.Setenv(envVar, v)
				}
			}

			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")

			ctx = config.WithContext(ctx, &cfg)
			srv, err := StartServer(ctx, cfg)
			if err != nil {
				return err
			}

			<-ctx.Done()
			log.Info("Shutdown signal received, draining")
			drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
			defer cancel()
			return srv.Shutdown(drainCtx)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{
		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.StringFlag{
			Name:        "temp-dir",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_TEMP_DIR"),
			Destination: &cfg.TempDir,
			Usage:       "Directory for temporary files; defaults to OS temp directory",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "admin-require-justification",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_ADMIN_REQUIRE_JUSTIFICATION"),
			Destination: &cfg.RequireJustification,
			Usage:       "Require an X-Justification header for admin API calls",
		},
		&cli.StringFlag{
			Name:        "admin-clients",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_ADMIN_CLIENTS"),
			Destination: &cfg.AdminClients,
			Usage:       "Comma-separated client IDs granted the admin role; all other resolved clients get auditor",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Usage:       "Comma-separated key=value constant labels added to every Prometheus metric",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS for browser-based clients",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins; empty allows any origin",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum accepted request body size, in bytes",
		},

		// ── Network Listener: Management ─────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Network Listener: Management:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health, readiness, and metrics; when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Network Listener: Management:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for the management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Network Listener: Management:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for the management server",
		},

		// ── Primary Store ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Primary Store:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DB_KIND"),
			Destination: &cfg.PrimaryStoreType,
			Value:       cfg.PrimaryStoreType,
			Usage:       "Primary store backend (" + strings.Join(primarystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Primary Store:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Primary store connection URL",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Primary Store:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run primary store schema migration on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Primary Store:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open primary store connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Primary Store:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle primary store connections",
		},

		// ── Dense Index ───────────────────────────────────────────
		&cli.StringFlag{
			Name:        "dense-index-kind",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DENSE_INDEX_KIND"),
			Destination: &cfg.DenseIndexType,
			Value:       cfg.DenseIndexType,
			Usage:       "Dense/HDC vector index backend (" + strings.Join(denseindex.Names(), "|") + ")",
		},
		&cli.BoolFlag{
			Name:        "dense-index-migrate-at-start",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DENSE_INDEX_MIGRATE_AT_START"),
			Destination: &cfg.DenseIndexMigrateAtStart,
			Value:       cfg.DenseIndexMigrateAtStart,
			Usage:       "Ensure every dense/HDC space's collection exists on startup",
		},
		&cli.StringFlag{
			Name:        "sqlitevec-path",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_SQLITEVEC_PATH"),
			Destination: &cfg.SQLiteVecPath,
			Value:       cfg.SQLiteVecPath,
			Usage:       "SQLite-vec database file",
		},
		&cli.StringFlag{
			Name:        "pgvector-url",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_PGVECTOR_URL"),
			Destination: &cfg.PgvectorURL,
			Usage:       "pgvector connection URL (defaults to db-url when db-kind is postgres)",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant gRPC host",
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_QDRANT_PORT"),
			Destination: &cfg.QdrantPort,
			Value:       cfg.QdrantPort,
			Usage:       "Qdrant gRPC port",
		},
		&cli.StringFlag{
			Name:        "qdrant-collection-prefix",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_QDRANT_COLLECTION_PREFIX"),
			Destination: &cfg.QdrantCollectionPrefix,
			Value:       cfg.QdrantCollectionPrefix,
			Usage:       "Prefix for per-space Qdrant collection names",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-use-tls",
			Category:    "Dense Index:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_QDRANT_USE_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant gRPC connection",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Array cache backend (" + strings.Join(arraycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-hosts",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_REDIS_HOSTS"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "cache-epoch-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_CACHE_EPOCH_TTL"),
			Destination: &cfg.CacheEpochTTL,
			Value:       cfg.CacheEpochTTL,
			Usage:       "Cache entry TTL",
		},
		&cli.Int64Flag{
			Name:        "ristretto-max-cost",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_RISTRETTO_MAX_COST"),
			Destination: &cfg.RistrettoMaxCost,
			Value:       cfg.RistrettoMaxCost,
			Usage:       "Maximum approximate cost (bytes) of the in-process ristretto array cache",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embed-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_EMBED_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedder backend (" + strings.Join(embed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key for the 'openai' embedder",
		},
		&cli.StringFlag{
			Name:        "openai-model-name",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_OPENAI_MODEL_NAME"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},

		// ── Retrieval ─────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "retrieval-default-top-k",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_RETRIEVAL_DEFAULT_TOP_K"),
			Destination: &cfg.RetrievalDefaultTopK,
			Value:       cfg.RetrievalDefaultTopK,
			Usage:       "Default number of hits returned by search",
		},
		&cli.StringFlag{
			Name:        "retrieval-default-fusion",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_RETRIEVAL_DEFAULT_FUSION"),
			Destination: &cfg.RetrievalDefaultFusion,
			Value:       cfg.RetrievalDefaultFusion,
			Usage:       "Default cross-space fusion strategy (rrf|weighted)",
		},
		&cli.DurationFlag{
			Name:        "retrieval-space-timeout",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_RETRIEVAL_SPACE_TIMEOUT"),
			Destination: &cfg.RetrievalSpaceTimeout,
			Value:       cfg.RetrievalSpaceTimeout,
			Usage:       "Per-space search timeout before it is dropped from fusion",
		},

		// ── Tier Migration ────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "tier-migration-enabled",
			Category:    "Tier Migration:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_TIER_MIGRATION_ENABLED"),
			Destination: &cfg.TierMigrationEnabled,
			Value:       cfg.TierMigrationEnabled,
			Usage:       "Periodically demote stale arrays from hot to warm to cold",
		},
		&cli.DurationFlag{
			Name:        "tier-migration-interval",
			Category:    "Tier Migration:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_TIER_MIGRATION_INTERVAL"),
			Destination: &cfg.TierMigrationInterval,
			Value:       cfg.TierMigrationInterval,
			Usage:       "How often the tier migrator runs",
		},

		// ── Purpose Discovery ─────────────────────────────────────
		&cli.BoolFlag{
			Name:        "purpose-discovery-enabled",
			Category:    "Purpose Discovery:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_PURPOSE_DISCOVERY_ENABLED"),
			Destination: &cfg.PurposeDiscoveryEnabled,
			Value:       cfg.PurposeDiscoveryEnabled,
			Usage:       "Periodically re-cluster recent arrays into discovered purposes",
		},
		&cli.DurationFlag{
			Name:        "purpose-discovery-interval",
			Category:    "Purpose Discovery:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_PURPOSE_DISCOVERY_INTERVAL"),
			Destination: &cfg.PurposeDiscoveryInterval,
			Value:       cfg.PurposeDiscoveryInterval,
			Usage:       "How often the purpose scheduler runs",
		},
		&cli.FloatFlag{
			Name:        "purpose-discovery-sim-threshold",
			Category:    "Purpose Discovery:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_PURPOSE_DISCOVERY_SIM_THRESHOLD"),
			Destination: &cfg.PurposeDiscoverySimThreshold,
			Value:       cfg.PurposeDiscoverySimThreshold,
			Usage:       "Minimum aggregate similarity for a memory to join a purpose cluster",
		},

		// ── Encryption ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "encryption-kind",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_ENCRYPTION_KIND"),
			Destination: &cfg.EncryptionProviders,
			Value:       cfg.EncryptionProviders,
			Usage:       "Comma-separated ordered list of encryption providers (" + strings.Join(encrypt.Names(), "|") + "); first is primary",
		},
		&cli.StringFlag{
			Name:        "encryption-dek-key",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_ENCRYPTION_DEK_KEY"),
			Destination: &cfg.EncryptionKey,
			Usage:       "Comma-separated AES keys for the 'dek' provider (hex or base64, 16/24/32 bytes)",
		},
		&cli.StringFlag{
			Name:        "encryption-vault-transit-key",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_ENCRYPTION_VAULT_TRANSIT_KEY"),
			Destination: &cfg.EncryptionVaultTransitKey,
			Usage:       "Vault Transit key name for the 'vault' provider",
		},
		&cli.StringFlag{
			Name:     "encryption-vault-addr",
			Category: "Encryption:",
			Sources:  cli.EnvVars("VAULT_ADDR"),
			Usage:    "Vault server URL (e.g. https://vault.example.com)",
		},
		&cli.StringFlag{
			Name:     "encryption-vault-token",
			Category: "Encryption:",
			Sources:  cli.EnvVars("VAULT_TOKEN"),
			Usage:    "Vault authentication token",
		},
		&cli.StringFlag{
			Name:        "encryption-kms-key-id",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_ENCRYPTION_KMS_KEY_ID"),
			Destination: &cfg.EncryptionKMSKeyID,
			Usage:       "AWS KMS key ID or ARN for the 'awskms' provider",
		},
		&cli.StringFlag{
			Name:     "encryption-kms-aws-region",
			Category: "Encryption:",
			Sources:  cli.EnvVars("AWS_REGION"),
			Usage:    "AWS region for the 'awskms' provider",
		},
		&cli.StringFlag{
			Name:     "encryption-kms-aws-access-key-id",
			Category: "Encryption:",
			Sources:  cli.EnvVars("AWS_ACCESS_KEY_ID"),
			Usage:    "AWS access key ID",
		},
		&cli.StringFlag{
			Name:     "encryption-kms-aws-secret-access-key",
			Category: "Encryption:",
			Sources:  cli.EnvVars("AWS_SECRET_ACCESS_KEY"),
			Usage:    "AWS secret access key",
		},

		// ── Metrics ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "prometheus-url",
			Category:    "Metrics:",
			Sources:     cli.EnvVars("MEMORY_SERVICE_PROMETHEUS_URL"),
			Destination: &cfg.PrometheusURL,
			Usage:       "Prometheus pushgateway URL, if metrics are pushed rather than scraped",
		},
	}
}
