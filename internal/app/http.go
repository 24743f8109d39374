package app

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"presence-service/internal/config"
	"presence-service/internal/gateway"
	"presence-service/internal/identity"
	"presence-service/internal/middleware"
	"presence-service/internal/presence"
	"presence-service/internal/registry"
	"presence-service/internal/session"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	var attachments registry.Store
	var sessionStore session.Store
	if infra.Redis != nil {
		attachments = registry.NewRedisStore(infra.Redis.Client, cfg.AttachmentTTL)
		sessionStore = session.NewRedisStore(infra.Redis.Client)
	} else {
		attachments = registry.NewMemory()
	}

	var profileResolver identity.Resolver
	if infra.DB != nil {
		profileResolver = identity.NewDBResolver(infra.DB)
	}

	hub := presence.NewHub(attachments)

	authMiddleware := middleware.NewAuthMiddleware(sessionStore, []byte(cfg.JWTSecret))

	presenceHandler := gateway.NewHandler(hub, profileResolver, cfg.AllowedOrigins)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.AllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
		router.Use(cors.New(corsCfg))
	}

	presenceHandler.RegisterRoutes(router, middleware.GinRequireAuth(authMiddleware))

	// ----------------------------
	// Cleanup
	// ----------------------------

	cleanup := func() error {
		hub.Close()
		if infra.Redis != nil {
			infra.Redis.Close()
		}
		if infra.DB != nil {
			return infra.DB.Close()
		}
		return nil
	}

	return router, cleanup, nil
}
