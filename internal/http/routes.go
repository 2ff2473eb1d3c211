package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"advanced_rps/internal/config"
	"advanced_rps/internal/http/handlers"
	"advanced_rps/internal/http/middleware"
	"advanced_rps/internal/relay"
)

// RegisterRoutes mounts the relay surface: the websocket endpoint, token
// issuing, health probes and metrics.
func RegisterRoutes(r *gin.Engine, hub *relay.Hub, tokens *relay.Tokens, cfg *config.Relay) {
	r.Use(middleware.Metrics())

	healthHandler := handlers.NewHealthHandler(hub, cfg.Version, map[string]handlers.Check{
		"redis": middleware.RedisPinger(),
	})
	tokenHandler := handlers.NewTokenHandler(tokens, hub)

	// Health checks (no rate limiting)
	r.GET("/health", healthHandler.Health)
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limit := middleware.RateLimit(cfg.RateLimit, cfg.RateWindow)
	perPeer := middleware.PeerRateLimit(cfg.RateLimit, cfg.RateWindow)

	r.GET("/token", limit, perPeer, tokenHandler.Token)
	r.GET("/ws", limit, perPeer, relay.HandleWS(hub, tokens, cfg.AllowedOrigin))
}
