package app

import (
	"github.com/gin-gonic/gin"

	"procurement.io/orchestrator/internal/api/handlers"
	"procurement.io/orchestrator/internal/api/middleware"
	"procurement.io/orchestrator/internal/config"
)

// newRouter mounts the probes unauthenticated and every command under
// /api/v1 behind ActorAuth.
func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	if corsMw := middleware.CORS(corsConfig(cfg)); corsMw != nil {
		router.Use(corsMw)
	}

	v1 := router.Group("/api/v1")
	server.RegisterHealth(v1)

	authed := v1.Group("")
	authed.Use(middleware.ActorAuth(jwtConfig(cfg)))
	server.Register(authed)
	return router
}

func jwtConfig(cfg *config.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:       []byte(cfg.Security.JWTSigningKey),
		Issuer:           JWTIssuer,
		AllowHeaderActor: cfg.Security.AllowHeaderActor,
	}
}

// JWTIssuer is the iss claim on tokens this service issues and accepts.
const JWTIssuer = "procurement-orchestrator"

func corsConfig(cfg *config.Config) middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		AllowCredentials:      cfg.Server.AllowCredentials,
		UnsafeAllowAllOrigins: cfg.Server.UnsafeAllowAllOrigins,
	}
}
