package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/cartreserve-backend/internal/cart"
	"github.com/angelmondragon/cartreserve-backend/internal/catalog"
	"github.com/angelmondragon/cartreserve-backend/internal/inventory"
	"github.com/angelmondragon/cartreserve-backend/internal/reservation"
	pkgAuth "github.com/angelmondragon/cartreserve-backend/pkg/auth"
	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
)

type stack struct {
	router http.Handler
	conn   *gorm.DB
	ledger *inventory.Ledger
	cfg    *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "cartreserve-test"},
		HTTP: config.HTTPConfig{
			AllowedOrigins:    []string{"http://localhost:3000"},
			RequestTimeout:    5 * time.Second,
			RateLimitPerSec:   100,
			RateLimitBurst:    100,
			IdempotencyTTL:    time.Hour,
			GuestCartCookie:   "cr_cart",
			GuestCookieMaxAge: time.Hour,
		},
	}
}

func newStack(t *testing.T) *stack {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:routes_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(
		&models.Cart{},
		&models.CartItem{},
		&models.CatalogProduct{},
		&models.InventoryRecord{},
		&models.ReservationAdjustment{},
		&models.OutboxEvent{},
	))

	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard})
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledger, err := inventory.NewLedger(inventory.LedgerParams{DB: conn, Outbox: emitter, Logger: logg})
	require.NoError(t, err)
	coordinator, err := reservation.NewCoordinator(reservation.CoordinatorParams{DB: conn, Ledger: ledger, Outbox: emitter, Logger: logg})
	require.NoError(t, err)
	reader, err := catalog.NewReader(conn, nil, time.Minute, logg)
	require.NoError(t, err)
	client := db.NewWithConn(conn)
	svc, err := cart.NewService(cart.ServiceParams{
		Repo:        cart.NewRepository(conn),
		Tx:          client,
		Coordinator: coordinator,
		Catalog:     reader,
		Outbox:      emitter,
		Logger:      logg,
		Currency:    "VND",
	})
	require.NoError(t, err)

	router := NewRouter(cfg, logg, client, nil, svc, ledger, prometheus.NewRegistry())
	return &stack{router: router, conn: conn, ledger: ledger, cfg: cfg}
}

func (s *stack) product(t *testing.T, price int64, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.conn.Create(&models.CatalogProduct{ID: id, SKU: "SKU-" + id.String()[:8], Name: "Widget", Price: price, Currency: "VND", IsActive: true}).Error)
	_, err := s.ledger.ReceiveStock(context.Background(), id, stock, "")
	require.NoError(t, err)
	return id
}

func (s *stack) token(t *testing.T, owner, role string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(s.cfg.JWT, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{OwnerID: owner, Role: role})
	require.NoError(t, err)
	return token
}

func (s *stack) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type cartPayload struct {
	ID     uuid.UUID    `json:"id"`
	Items  []cartLine   `json:"items"`
	Totals cartTotalsIn `json:"totals"`
}

type cartLine struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type cartTotalsIn struct {
	Total int64 `json:"total"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope.Data
}

func TestGuestCartCheckoutFlow(t *testing.T) {
	s := newStack(t)
	a := s.product(t, 100000, 5)
	b := s.product(t, 50000, 5)

	rec := s.do(t, http.MethodPost, "/api/v1/carts", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[cartPayload](t, rec)
	base := "/api/v1/carts/" + created.ID.String()

	rec = s.do(t, http.MethodPost, base+"/items", `{"productId":"`+a.String()+`","quantity":2}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, base+"/items", `{"productId":"`+b.String()+`","quantity":1}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 305000, decode[cartPayload](t, rec).Totals.Total)

	rec = s.do(t, http.MethodPost, base+"/items", `{"productId":"`+a.String()+`","quantity":4}`, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/checkout/commit", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	record, err := s.ledger.Get(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, 3, record.Stock)
	require.Zero(t, record.Reserved)

	rec = s.do(t, http.MethodGet, base, "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOwnerCartIsHiddenFromOthers(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodGet, "/api/v1/carts/me", "", s.token(t, "user-1", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[cartPayload](t, rec)

	rec = s.do(t, http.MethodGet, "/api/v1/carts/"+mine.ID.String(), "", s.token(t, "user-2", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/carts/"+mine.ID.String(), "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/carts/"+mine.ID.String(), "", s.token(t, "user-1", ""))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestInventoryMutationsRequireAdmin(t *testing.T) {
	s := newStack(t)
	p := s.product(t, 1000, 1)
	path := "/api/v1/inventory/" + p.String() + "/receipts"

	require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, path, `{"quantity":5}`, "").Code)
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path, `{"quantity":5}`, s.token(t, "user-1", pkgAuth.RoleCustomer)).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, path, `{"quantity":5}`, s.token(t, "ops", pkgAuth.RoleAdmin)).Code)

	rec := s.do(t, http.MethodGet, "/api/v1/inventory/"+p.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 6, decode[struct {
		Stock int `json:"stock"`
	}](t, rec).Stock)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newStack(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", "", "").Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", "", "").Code)

	s.do(t, http.MethodGet, "/api/v1/inventory/low-stock", "", "")
	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `cartreserve_http_requests_total{method="GET",route="/api/v1/inventory/low-stock",status="200"}`)
}
