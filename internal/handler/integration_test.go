//go:build integration

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/oakmart/checkout/internal/auth"
	"github.com/oakmart/checkout/internal/checkout"
	"github.com/oakmart/checkout/internal/pricing"
	"github.com/oakmart/checkout/internal/repository"
	"github.com/oakmart/checkout/pkg/httpmiddleware"
)

// End-to-end tests over a real HTTP server and a real Postgres: router,
// middleware, service, repositories, nothing mocked.

var (
	integrationPool *pgxpool.Pool
	serverURL       string
	apiClient       *http.Client
)

var (
	uuidRe     = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	orderNumRe = regexp.MustCompile(`^OM-[0-9A-F]{12}$`)
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("checkout"),
		tcpostgres.WithPassword("checkout"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	integrationPool, err = repository.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer integrationPool.Close()

	if err := repository.RunMigrations(ctx, integrationPool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	svc := checkout.NewService(repository.NewStore(integrationPool), checkout.Config{
		StockPolicy:           pricing.StockClamp,
		Rates:                 pricing.DefaultRates(),
		FreeShippingThreshold: decimal.RequireFromString("299"),
	}, nil)
	verifier := auth.NewVerifier(repository.NewAPIKeyRepository(integrationPool), []byte(testPepper))

	router := chi.NewRouter()
	NewHandler(svc, repository.NewProductRepository(integrationPool), verifier).RegisterRoutes(router)

	srv := httptest.NewServer(httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zap.NewNop()),
	))
	defer srv.Close()

	serverURL = srv.URL
	apiClient = srv.Client()

	return m.Run()
}

// --- Helpers ---

// seedStore wipes every table and installs the storefront API key.
func seedStore(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := integrationPool.Exec(ctx,
		`TRUNCATE products, coupons, coupon_usages, orders, order_items, api_keys`)
	require.NoError(t, err)

	_, err = integrationPool.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ('storefront', $1, 'Storefront gateway key', '{submit_order}', TRUE)`,
		auth.Hash([]byte(testPepper), testAPIKey))
	require.NoError(t, err)
}

func insertProduct(t *testing.T, id, price string, stock int, weight, category string) {
	t.Helper()
	_, err := integrationPool.Exec(context.Background(),
		`INSERT INTO products (id, name, price, stock_count, track_inventory, weight, category_id, is_active)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, TRUE)`,
		id, "Product "+id, decimal.RequireFromString(price), stock,
		decimal.RequireFromString(weight), category)
	require.NoError(t, err)
}

func insertPercentCoupon(t *testing.T, code, value string) {
	t.Helper()
	_, err := integrationPool.Exec(context.Background(),
		`INSERT INTO coupons (id, code, type, value, application_type, is_active)
		VALUES ($1, $2, 'percentage', $3, 'all', TRUE)`,
		uuid.NewString(), code, decimal.RequireFromString(value))
	require.NoError(t, err)
}

func httpGet(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := apiClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func httpPost(t *testing.T, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := apiClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func stockOf(t *testing.T, id string) int {
	t.Helper()
	var n int
	err := integrationPool.QueryRow(context.Background(),
		`SELECT stock_count FROM products WHERE id = $1`, id).Scan(&n)
	require.NoError(t, err)
	return n
}

func usesOf(t *testing.T, code string) int {
	t.Helper()
	var n int
	err := integrationPool.QueryRow(context.Background(),
		`SELECT usage_count FROM coupons WHERE code = $1`, code).Scan(&n)
	require.NoError(t, err)
	return n
}

func cartBody(coupon string, lines ...map[string]any) map[string]any {
	body := map[string]any{"items": lines}
	if coupon != "" {
		body["couponCode"] = coupon
	}
	return body
}

func orderBody(coupon string, lines ...map[string]any) map[string]any {
	body := cartBody(coupon, lines...)
	body["shippingAddress"] = map[string]any{"street": "12 Oak Lane", "city": "Milton", "zip": "4064"}
	body["paymentMethod"] = "card"
	return body
}

func line(productID string, qty int) map[string]any {
	return map[string]any{"productId": productID, "quantity": qty}
}

// --- Tests ---

func TestServer_ListProducts(t *testing.T) {
	seedStore(t)
	insertProduct(t, "arabica-beans", "25.00", 100, "1.0", "coffee")
	insertProduct(t, "espresso-machine", "150.00", 10, "4.0", "coffee")
	_, err := integrationPool.Exec(context.Background(),
		`INSERT INTO products (id, name, price, is_active) VALUES ('retired', 'Retired', 1, FALSE)`)
	require.NoError(t, err)

	resp := httpGet(t, "/api/product", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	products := readJSON[[]productResponse](t, resp)
	require.Len(t, products, 2, "inactive products must not be listed")

	assert.Equal(t, "arabica-beans", products[0].ID)
	assert.Equal(t, "espresso-machine", products[1].ID)
	assert.Equal(t, 150.0, products[1].Price)
	assert.Equal(t, "coffee", products[1].Category)
	assert.True(t, products[1].InStock)
}

func TestServer_GetProduct(t *testing.T) {
	seedStore(t)
	insertProduct(t, "espresso-machine", "150.00", 10, "4.0", "coffee")

	resp := httpGet(t, "/api/product/espresso-machine", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p := readJSON[productResponse](t, resp)
	assert.Equal(t, "espresso-machine", p.ID)
	assert.Equal(t, "Product espresso-machine", p.Name)

	resp = httpGet(t, "/api/product/no-such-product", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_QuoteIsPublic(t *testing.T) {
	seedStore(t)
	insertProduct(t, "arabica-beans", "25.00", 100, "1.0", "coffee")

	// No API key, no user header: quoting is open to anonymous carts.
	resp := httpPost(t, "/api/checkout/quote", cartBody("", line("arabica-beans", 2)), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q := readJSON[quoteResponse](t, resp)
	assert.Equal(t, 50.0, q.Subtotal)
	assert.Equal(t, 0.0, q.Discount)
	assert.Equal(t, 7.90, q.Shipping)
	assert.Equal(t, 0.0, q.Tax)
	assert.Equal(t, 57.90, q.Total)
	require.Len(t, q.Items, 1)
	assert.Equal(t, 2, q.Items[0].Quantity)
	assert.Equal(t, 25.0, q.Items[0].UnitPrice)
}

func TestServer_QuoteFreeShippingOverThreshold(t *testing.T) {
	seedStore(t)
	insertProduct(t, "espresso-machine", "150.00", 10, "4.0", "coffee")

	resp := httpPost(t, "/api/checkout/quote", cartBody("", line("espresso-machine", 2)), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q := readJSON[quoteResponse](t, resp)
	assert.Equal(t, 300.0, q.Subtotal)
	assert.Equal(t, 0.0, q.Shipping, "subtotal at or above 299 ships free")
	assert.Equal(t, 300.0, q.Total)
}

func TestServer_QuoteDoesNotTouchCounters(t *testing.T) {
	seedStore(t)
	insertProduct(t, "arabica-beans", "25.00", 100, "1.0", "coffee")
	insertPercentCoupon(t, "SAVE10", "10")

	resp := httpPost(t, "/api/checkout/quote", cartBody("SAVE10", line("arabica-beans", 4)), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 100, stockOf(t, "arabica-beans"))
	assert.Equal(t, 0, usesOf(t, "SAVE10"))
}

func TestServer_SubmitOrderRequiresAPIKey(t *testing.T) {
	seedStore(t)
	insertProduct(t, "arabica-beans", "25.00", 100, "1.0", "coffee")

	body := orderBody("", line("arabica-beans", 1))

	resp := httpPost(t, "/api/order", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = httpPost(t, "/api/order", body, map[string]string{apiKeyHeader: "wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_SubmitOrderEmptyCart(t *testing.T) {
	seedStore(t)

	resp := httpPost(t, "/api/order", orderBody(""), authHeaders())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SubmitOrderUnknownProduct(t *testing.T) {
	seedStore(t)

	resp := httpPost(t, "/api/order", orderBody("", line("no-such-product", 1)), authHeaders())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	e := readJSON[errorResponse](t, resp)
	assert.Equal(t, "PRODUCT_NOT_FOUND", e.Reason)
}

func TestServer_SubmitOrderUnknownCoupon(t *testing.T) {
	seedStore(t)
	insertProduct(t, "arabica-beans", "25.00", 100, "1.0", "coffee")

	resp := httpPost(t, "/api/order", orderBody("NOPE2024", line("arabica-beans", 1)), authHeaders())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	e := readJSON[errorResponse](t, resp)
	assert.Equal(t, "NOT_FOUND", e.Reason)
}

func TestServer_SubmitAndFetchOrder(t *testing.T) {
	seedStore(t)
	insertProduct(t, "espresso-machine", "150.00", 10, "4.0", "coffee")
	insertProduct(t, "arabica-beans", "25.00", 100, "1.0", "coffee")
	insertPercentCoupon(t, "SAVE10", "10")

	// Code arrives lowercase; the server stores and reports the canonical form.
	resp := httpPost(t, "/api/order",
		orderBody("save10", line("espresso-machine", 1), line("arabica-beans", 2)),
		authHeaders())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	o := readJSON[orderResponse](t, resp)
	assert.Regexp(t, uuidRe, o.ID)
	assert.Regexp(t, orderNumRe, o.OrderNumber)
	assert.Equal(t, "pending", o.Status)
	assert.Equal(t, "pending", o.PaymentStatus)
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.Equal(t, 200.0, o.Subtotal)
	assert.Equal(t, 20.0, o.Discount)
	assert.Equal(t, 14.90, o.Shipping, "6 kg cart lands in the 10 kg tier")
	assert.Equal(t, 194.90, o.Total)
	require.Len(t, o.Items, 2)

	// The commit applied both side effects.
	assert.Equal(t, 9, stockOf(t, "espresso-machine"))
	assert.Equal(t, 98, stockOf(t, "arabica-beans"))
	assert.Equal(t, 1, usesOf(t, "SAVE10"))

	// Fetch round trip, still behind the API key.
	fetch := httpGet(t, "/api/order/"+o.ID, authHeaders())
	require.Equal(t, http.StatusOK, fetch.StatusCode)

	got := readJSON[orderResponse](t, fetch)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.Total, got.Total)
	require.Len(t, got.Items, 2)

	noAuth := httpGet(t, "/api/order/"+o.ID, nil)
	assert.Equal(t, http.StatusUnauthorized, noAuth.StatusCode)
}

func TestServer_SubmitClampsToStock(t *testing.T) {
	seedStore(t)
	insertProduct(t, "arabica-beans", "25.00", 3, "1.0", "coffee")

	resp := httpPost(t, "/api/order", orderBody("", line("arabica-beans", 5)), authHeaders())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	o := readJSON[orderResponse](t, resp)
	assert.Equal(t, 75.0, o.Subtotal)
	require.Len(t, o.Adjustments, 1)
	assert.Equal(t, "arabica-beans", o.Adjustments[0].ProductID)
	assert.Equal(t, 5, o.Adjustments[0].Requested)
	assert.Equal(t, 3, o.Adjustments[0].Effective)

	assert.Equal(t, 0, stockOf(t, "arabica-beans"))
}
