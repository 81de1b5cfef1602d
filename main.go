package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"access-service/internal/audit"
	"access-service/internal/cache"
	"access-service/internal/config"
	"access-service/internal/engine"
	"access-service/internal/handlers"
	"access-service/internal/metrics"
	"access-service/internal/middleware"
	"access-service/internal/models"
	natsClient "access-service/internal/nats"
	redisClient "access-service/internal/redis"
	"access-service/internal/repository"
	"access-service/internal/resolver"
	"access-service/internal/services"
	"access-service/internal/session"
	"access-service/internal/switcher"
	"access-service/internal/tenantctx"
)

func main() {
	cfg := config.New()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Redis is optional: without it the permission cache runs in-process
	// and sessions fall back to memory
	var rdb *goredis.Client
	if client, err := redisClient.NewClient(cfg.Redis); err != nil {
		log.Printf("Warning: Redis unavailable, using in-process fallbacks: %v", err)
	} else {
		rdb = client
		defer rdb.Close()
	}

	// NATS is optional: without it high-risk alerts are log-only
	var nc *natsClient.Client
	if client, err := natsClient.NewClient(nil); err != nil {
		log.Printf("Warning: NATS unavailable, security alerts are log-only: %v", err)
	} else {
		nc = client
		defer nc.Close()
	}

	// Repositories
	tenantRepo := repository.NewTenantRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	eventRepo := repository.NewEventRepository(db)

	if err := roleRepo.SeedPermissions(context.Background()); err != nil {
		log.Fatalf("Failed to seed permissions: %v", err)
	}

	// Core services
	permEngine := engine.New(membershipRepo, roleRepo, tenantRepo, logger)
	permEngine.SetCache(cache.New(rdb, cfg.Cache.TTL, logger))

	auditService := audit.NewService(eventRepo, logger, cfg.Audit)
	if nc != nil {
		auditService.SetAlertPublisher(natsClient.NewAlertPublisher(nc, logger))
	}

	hostResolver := resolver.New(cfg.Domain.BaseDomain)
	ctxManager := tenantctx.NewManager(hostResolver, tenantRepo, permEngine, logger)

	var sessionStore session.Store
	if rdb != nil {
		sessionStore = session.NewRedisStore(rdb)
	} else {
		sessionStore = session.NewMemoryStore()
	}
	tenantSwitcher := switcher.New(tenantRepo, permEngine, sessionStore, auditService, logger)

	membershipService := services.NewMembershipService(membershipRepo, roleRepo, permEngine, auditService, logger)
	roleService := services.NewRoleService(roleRepo, membershipRepo, permEngine, auditService, logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, rdb, nc)
	accessHandler := handlers.NewAccessHandler(permEngine)
	switchHandler := handlers.NewSwitchHandler(tenantSwitcher)
	roleHandler := handlers.NewRoleHandler(roleService, membershipService, permEngine)
	membershipHandler := handlers.NewMembershipHandler(membershipService, permEngine)
	securityHandler := handlers.NewSecurityHandler(eventRepo, permEngine)

	router := setupRouter(cfg, ctxManager, healthHandler, accessHandler, switchHandler, roleHandler, membershipHandler, securityHandler)

	// Delegation maintenance: gauge refresh and expired-window pruning
	stopGauge := make(chan struct{})
	go delegationMaintenanceLoop(roleRepo, logger, stopGauge)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting access-service on %s (base domain %s)", srv.Addr, cfg.Domain.BaseDomain)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	close(stopGauge)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}

// initDatabase connects to PostgreSQL and runs migrations
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Membership{},
		&models.Role{},
		&models.Permission{},
		&models.RolePermission{},
		&models.PermissionDelegation{},
		&models.SecurityEvent{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func setupRouter(
	cfg *config.Config,
	ctxManager *tenantctx.Manager,
	healthHandler *handlers.HealthHandler,
	accessHandler *handlers.AccessHandler,
	switchHandler *handlers.SwitchHandler,
	roleHandler *handlers.RoleHandler,
	membershipHandler *handlers.MembershipHandler,
	securityHandler *handlers.SecurityHandler,
) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"https://*." + cfg.Domain.BaseDomain, "https://" + cfg.Domain.BaseDomain},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-User-ID", "X-User-Email", "X-Session-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.Principal())
	api.Use(middleware.TenantContext(ctxManager))
	{
		api.GET("/context", accessHandler.Context)
		api.POST("/access/check", accessHandler.Check)

		api.GET("/tenants/available", switchHandler.Available)
		api.POST("/tenants/switch", switchHandler.Switch)
		api.POST("/tenants/leave", switchHandler.Leave)
		api.GET("/tenants/history", switchHandler.History)

		tenant := api.Group("/tenants/:tenantId")
		{
			tenant.GET("/members", membershipHandler.List)
			tenant.POST("/members", membershipHandler.Invite)
			tenant.PUT("/members/:membershipId/role", membershipHandler.ChangeRole)
			tenant.DELETE("/members/:membershipId", membershipHandler.Deactivate)
			tenant.POST("/owner/transfer", membershipHandler.TransferOwnership)

			tenant.GET("/roles", roleHandler.ListRoles)
			tenant.POST("/roles", roleHandler.CreateRole)
			tenant.PUT("/roles/:roleId", roleHandler.UpdateRole)
			tenant.DELETE("/roles/:roleId", roleHandler.DeleteRole)
			tenant.POST("/roles/:roleId/permissions", roleHandler.GrantPermission)
			tenant.DELETE("/roles/:roleId/permissions", roleHandler.RevokePermission)

			tenant.POST("/delegations", roleHandler.CreateDelegation)
			tenant.DELETE("/delegations/:delegationId", roleHandler.RevokeDelegation)

			tenant.GET("/security/events", securityHandler.ListEvents)
			tenant.GET("/security/events/user/:userId", securityHandler.UserEvents)
			tenant.GET("/security/failed-logins", securityHandler.FailedLogins)
		}
	}

	return router
}

// delegationExpiredRetention is how long a lapsed delegation is kept
// before cleanup; the audit trail references delegations by ID
const delegationExpiredRetention = 30 * 24 * time.Hour

// delegationMaintenanceLoop refreshes the active-delegations gauge once a minute
// and prunes long-expired delegations once an hour
func delegationMaintenanceLoop(roleRepo *repository.RoleRepository, logger *logrus.Logger, stop <-chan struct{}) {
	gaugeTicker := time.NewTicker(time.Minute)
	defer gaugeTicker.Stop()
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-gaugeTicker.C:
			count, err := roleRepo.CountActiveDelegations(context.Background(), time.Now())
			if err != nil {
				logger.WithError(err).Debug("Failed to count active delegations")
				continue
			}
			metrics.ActiveDelegations.Set(float64(count))
		case <-cleanupTicker.C:
			cutoff := time.Now().Add(-delegationExpiredRetention)
			removed, err := roleRepo.DeleteExpiredDelegations(context.Background(), cutoff)
			if err != nil {
				logger.WithError(err).Warn("Failed to prune expired delegations")
				continue
			}
			if removed > 0 {
				logger.WithField("removed", removed).Info("Pruned expired delegations")
			}
		}
	}
}
