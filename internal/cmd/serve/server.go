package serve

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/httpapi"
	"github.com/chirino/memory-service/internal/indexcoordinator"
	"github.com/chirino/memory-service/internal/lateindex"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/plugin/route/system"
	"github.com/chirino/memory-service/internal/purpose"
	"github.com/chirino/memory-service/internal/registry/arraycache"
	"github.com/chirino/memory-service/internal/registry/denseindex"
	"github.com/chirino/memory-service/internal/registry/primarystore"
	registryroute "github.com/chirino/memory-service/internal/registry/route"
	"github.com/chirino/memory-service/internal/retrieval"
	"github.com/chirino/memory-service/internal/security"
	"github.com/chirino/memory-service/internal/service"
	"github.com/chirino/memory-service/internal/sparseindex"
)

// Server bundles the running listeners and background services started by
// StartServer, so main can wait for shutdown and drain them in order.
type Server struct {
	cfg        config.Config
	store      primarystore.Store
	denseIndex denseindex.Index
	main       *runningListener
	management *runningListener
}

// StartServer wires every registry backend named in cfg, constructs the core
// engine (index coordinator, retrieval pipeline, purpose discoverer),
// mounts the HTTP API, starts background services, and binds the listener(s).
func StartServer(ctx context.Context, cfg config.Config) (*Server, error) {
	log.Info("Starting memory service", "primary_store", cfg.PrimaryStoreType, "dense_index", cfg.DenseIndexType, "embed", cfg.EmbedType)

	labels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("parse metrics labels: %w", err)
	}
	if labels == nil {
		labels = map[string]string{"service": "memory-service"}
	}
	security.InitMetrics(labels)

	storeLoader, err := primarystore.Select(cfg.PrimaryStoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("init primary store: %w", err)
	}
	if cfg.DatastoreMigrateAtStart {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("primary store migration: %w", err)
		}
	}

	denseLoader, err := denseindex.Select(cfg.DenseIndexType)
	if err != nil {
		return nil, err
	}
	denseIdx, err := denseLoader(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("init dense index: %w", err)
	}
	if cfg.DenseIndexMigrateAtStart {
		for i := 0; i < model.NumSpaces; i++ {
			space := model.Space(i)
			kind := model.Attributes[space].Kind
			if kind == model.KindSparseLexical || kind == model.KindTokenBag {
				continue
			}
			if err := denseIdx.EnsureSpace(ctx, space); err != nil {
				return nil, fmt.Errorf("ensure dense space %s: %w", space, err)
			}
		}
	}

	cacheLoader, err := arraycache.Select(cfg.CacheType)
	if err != nil {
		return nil, err
	}
	cache, err := cacheLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("init array cache: %w", err)
	}
	ctx = arraycache.WithContext(ctx, cache)

	sparseIdx := sparseindex.New()
	lateIndexes := map[model.Space]*lateindex.Index{
		model.LateInteraction: lateindex.New(model.Attributes[model.LateInteraction].Dimension),
	}
	coordinator := indexcoordinator.New(denseIdx, sparseIdx, lateIndexes)
	pipeline := retrieval.New(coordinator, store, &cfg)
	discoverer := purpose.New(store, &cfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	router.Use(security.MetricsMiddleware())
	router.Use(security.AdminAuditMiddleware(cfg.RequireJustification))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("mount main route plugin: %w", err)
		}
	}
	httpapi.MountRoutes(router, httpapi.Deps{
		Store:       store,
		Cache:       cache,
		Coordinator: coordinator,
		Pipeline:    pipeline,
		Discoverer:  discoverer,
		Cfg:         &cfg,
	})

	var managementRouter *gin.Engine
	if cfg.ManagementListenerEnabled {
		managementRouter = gin.New()
		managementRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			managementRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(managementRouter); err != nil {
				return nil, fmt.Errorf("mount management route plugin: %w", err)
			}
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("mount management route plugin on main port: %w", err)
			}
		}
	}

	mainLis, err := startListener("main", cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	var mgmtLis *runningListener
	if cfg.ManagementListenerEnabled {
		mgmtLis, err = startListener("management", cfg.ManagementListener, managementRouter)
		if err != nil {
			_ = mainLis.Close(context.Background())
			return nil, err
		}
	}

	if cfg.PurposeDiscoveryEnabled {
		scheduler := service.NewPurposeScheduler(discoverer, cfg.PurposeDiscoveryInterval, cfg.PurposeDiscoveryBatchSize)
		go scheduler.Start(ctx)
	}
	if cfg.TierMigrationEnabled {
		migrator := service.NewTierMigrator(store, cfg.TierMigrationInterval, cfg.TierMigrationBatchSize, cfg.TierWarmAfter, cfg.TierColdAfter)
		go migrator.Start(ctx)
	}

	system.MarkReady()
	log.Info("Memory service ready", "addr", mainLis.Addr)

	return &Server{cfg: cfg, store: store, denseIndex: denseIdx, main: mainLis, management: mgmtLis}, nil
}

// Shutdown drains the listeners and closes the store/index backends.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.main.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.management != nil {
		if err := s.management.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.denseIndex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
