package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartreserve-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/cartreserve-backend/api/controllers/cart"
	inventorycontrollers "github.com/angelmondragon/cartreserve-backend/api/controllers/inventory"
	"github.com/angelmondragon/cartreserve-backend/api/middleware"
	"github.com/angelmondragon/cartreserve-backend/internal/cart"
	pkgAuth "github.com/angelmondragon/cartreserve-backend/pkg/auth"
	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/cartreserve-backend/pkg/redis"
)

// RedisStore is the redis surface the HTTP layer uses for readiness, idempotency and
// shared rate limits.
type RedisStore interface {
	pkgredis.Pinger
	middleware.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient RedisStore,
	cartService cart.Service,
	ledger inventorycontrollers.Ledger,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, metrics.NewHTTPMetrics(registry)),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	cookie := cartcontrollers.GuestCookie{
		Name:   cfg.HTTP.GuestCartCookie,
		MaxAge: cfg.HTTP.GuestCookieMaxAge,
		Secure: cfg.App.IsProd(),
	}
	throttle := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:        "cart",
		PerSecond:   cfg.HTTP.RateLimitPerSec,
		Burst:       cfg.HTTP.RateLimitBurst,
		WindowLimit: int64(cfg.HTTP.RateLimitPerSec * 60),
		Window:      time.Minute,
		IdleTTL:     10 * time.Minute,
	}, redisClient, logg)
	// Registered on endpoint groups so the full route pattern is known when it runs.
	idempotent := middleware.Idempotency(redisClient, cfg.HTTP.IdempotencyTTL, logg)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.HTTP.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.HTTP.RequestTimeout))
		}
		r.Use(middleware.Identity(cfg.JWT, logg))

		r.Route("/carts", func(r chi.Router) {
			r.With(throttle).Post("/", cartcontrollers.CartCreate(cartService, cookie, logg))
			r.Get("/me", cartcontrollers.CartMine(cartService, cookie, logg))

			r.Route("/{cartId}", func(r chi.Router) {
				r.Get("/", cartcontrollers.CartGet(cartService, logg))
				r.Get("/checkout", cartcontrollers.CartCheckout(cartService, logg))

				r.Group(func(r chi.Router) {
					r.Use(throttle, idempotent)
					r.Post("/items", cartcontrollers.CartAddItem(cartService, logg))
					r.Put("/items/{productId}", cartcontrollers.CartSetItemQuantity(cartService, logg))
					r.Delete("/items/{productId}", cartcontrollers.CartRemoveItem(cartService, logg))
					r.Delete("/items", cartcontrollers.CartClear(cartService, logg))
					r.Post("/merge", cartcontrollers.CartMerge(cartService, cookie, logg))
					r.Post("/checkout/commit", cartcontrollers.CartCommitCheckout(cartService, cookie, logg))
				})
			})
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", inventorycontrollers.InventoryList(ledger, logg))
			r.Get("/low-stock", inventorycontrollers.InventoryLowStock(ledger, logg))
			r.Get("/{productId}", inventorycontrollers.InventoryGet(ledger, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, pkgAuth.RoleAdmin), idempotent)
				r.Get("/{productId}/adjustments", inventorycontrollers.InventoryHistory(ledger, logg))
				r.Post("/{productId}/receipts", inventorycontrollers.InventoryReceive(ledger, logg))
				r.Put("/{productId}/threshold", inventorycontrollers.InventorySetThreshold(ledger, logg))
			})
		})
	})

	return r
}
