package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/checkout/internal/auth"
	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/checkout"
	"github.com/oakmart/checkout/internal/coupon"
	"github.com/oakmart/checkout/internal/pricing"
)

// --- Mock implementations ---

type mockCheckout struct {
	quote     *checkout.Quote
	submitRes *checkout.SubmitResult
	order     *checkout.Order
	err       error

	lastPreview checkout.PreviewRequest
	lastSubmit  checkout.SubmitRequest
	lastOrderID string
}

func (m *mockCheckout) Preview(_ context.Context, req checkout.PreviewRequest) (*checkout.Quote, error) {
	m.lastPreview = req
	if m.err != nil {
		return nil, m.err
	}
	return m.quote, nil
}

func (m *mockCheckout) Submit(_ context.Context, req checkout.SubmitRequest) (*checkout.SubmitResult, error) {
	m.lastSubmit = req
	if m.err != nil {
		return nil, m.err
	}
	return m.submitRes, nil
}

func (m *mockCheckout) GetOrder(_ context.Context, id string) (*checkout.Order, error) {
	m.lastOrderID = id
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

type mockProductRepo struct {
	products []catalog.Product
	byID     map[string]*catalog.Product
	listErr  error
}

func (m *mockProductRepo) List(_ context.Context) ([]catalog.Product, error) {
	return m.products, m.listErr
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) Lookup(_ context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockKeyRepo struct {
	byHash map[string]*auth.APIKey
}

func (m *mockKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	key, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return key, nil
}

// --- Helpers ---

const (
	testPepper = "test-pepper"
	testAPIKey = "storefront-key"
)

func newProductRepo(products ...catalog.Product) *mockProductRepo {
	byID := make(map[string]*catalog.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{products: products, byID: byID}
}

func newTestVerifier() *auth.Verifier {
	hash := auth.Hash([]byte(testPepper), testAPIKey)
	repo := &mockKeyRepo{byHash: map[string]*auth.APIKey{
		hash: {ID: "key-1", KeyHash: hash, Name: "storefront"},
	}}
	return auth.NewVerifier(repo, []byte(testPepper))
}

func newTestRouter(svc CheckoutService, products catalog.Repository) chi.Router {
	h := NewHandler(svc, products, newTestVerifier())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, router chi.Router, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testProduct(id, name, price string, stock int) catalog.Product {
	return catalog.Product{
		ID:             id,
		Name:           name,
		Price:          d(price),
		StockCount:     stock,
		TrackInventory: true,
		CategoryID:     "general",
		IsActive:       true,
	}
}

func authHeaders() map[string]string {
	return map[string]string{apiKeyHeader: testAPIKey, userIDHeader: "u-1"}
}

// --- Product endpoints ---

func TestListProducts(t *testing.T) {
	router := newTestRouter(&mockCheckout{}, newProductRepo(
		testProduct("p1", "Widget", "10.00", 3),
		testProduct("p2", "Gadget", "20.00", 0),
	))

	rec := doRequest(t, router, http.MethodGet, "/api/product", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	products := decodeResponse[[]productResponse](t, rec)
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0].ID)
	assert.Equal(t, "Widget", products[0].Name)
	assert.InDelta(t, 10.00, products[0].Price, 0.001)
	assert.True(t, products[0].InStock)
	assert.False(t, products[1].InStock)
}

func TestListProducts_Error(t *testing.T) {
	router := newTestRouter(&mockCheckout{}, &mockProductRepo{listErr: errors.New("db down")})

	rec := doRequest(t, router, http.MethodGet, "/api/product", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decodeResponse[errorResponse](t, rec)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestGetProduct(t *testing.T) {
	router := newTestRouter(&mockCheckout{}, newProductRepo(testProduct("p1", "Widget", "10.00", 3)))

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/product/p1", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		p := decodeResponse[productResponse](t, rec)
		assert.Equal(t, "p1", p.ID)
		assert.Equal(t, "general", p.Category)
	})

	t.Run("not found returns 404", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/product/missing", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		resp := decodeResponse[errorResponse](t, rec)
		assert.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "product not found", resp.Message)
	})
}

// --- Quote endpoint ---

func TestQuote(t *testing.T) {
	svc := &mockCheckout{quote: &checkout.Quote{
		Totals: pricing.Totals{
			Subtotal: d("50.00"),
			Discount: d("5.00"),
			Shipping: d("5.90"),
			Tax:      decimal.Zero,
			Total:    d("50.90"),
		},
		Lines: []pricing.Line{{
			Product:   testProduct("p1", "Widget", "10.00", 10),
			Requested: 5,
			Effective: 5,
			UnitPrice: d("10.00"),
			LineTotal: d("50.00"),
		}},
		Coupon: &checkout.AppliedCoupon{Code: "SAVE10", Type: coupon.TypePercentage},
	}}
	router := newTestRouter(svc, newProductRepo())

	body := quoteRequest{
		Items:      []cartLineRequest{{ProductID: "p1", Quantity: 5}},
		CouponCode: "save10",
	}
	rec := doRequest(t, router, http.MethodPost, "/api/checkout/quote", body, map[string]string{userIDHeader: "u-7"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[quoteResponse](t, rec)
	assert.InDelta(t, 50.00, resp.Subtotal, 0.001)
	assert.InDelta(t, 5.00, resp.Discount, 0.001)
	assert.InDelta(t, 5.90, resp.Shipping, 0.001)
	assert.InDelta(t, 50.90, resp.Total, 0.001)
	require.NotNil(t, resp.Coupon)
	assert.Equal(t, "SAVE10", resp.Coupon.Code)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 5, resp.Items[0].Quantity)

	// The handler passes identity and cart through untouched.
	assert.Equal(t, "u-7", svc.lastPreview.UserID)
	assert.Equal(t, "save10", svc.lastPreview.CouponCode)
	require.Len(t, svc.lastPreview.Lines, 1)
	assert.Equal(t, "p1", svc.lastPreview.Lines[0].ProductID)
}

func TestQuote_MalformedBody(t *testing.T) {
	router := newTestRouter(&mockCheckout{}, newProductRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/quote", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuote_RejectedCoupon(t *testing.T) {
	svc := &mockCheckout{err: &coupon.RejectedError{Code: "GONE", Reason: coupon.ReasonLimitReached}}
	router := newTestRouter(svc, newProductRepo())

	body := quoteRequest{
		Items:      []cartLineRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "GONE",
	}
	rec := doRequest(t, router, http.MethodPost, "/api/checkout/quote", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeResponse[errorResponse](t, rec)
	assert.Equal(t, "LIMIT_REACHED", resp.Reason)
}

func TestQuote_InsufficientStock(t *testing.T) {
	svc := &mockCheckout{err: &pricing.InsufficientStockError{ProductID: "p1", Requested: 5, Available: 2}}
	router := newTestRouter(svc, newProductRepo())

	body := quoteRequest{Items: []cartLineRequest{{ProductID: "p1", Quantity: 5}}}
	rec := doRequest(t, router, http.MethodPost, "/api/checkout/quote", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeResponse[errorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Reason)
}

// --- Order endpoints ---

func sampleOrder() *checkout.Order {
	return &checkout.Order{
		ID:            "ord-1",
		OrderNumber:   "OM-ABCDEF123456",
		UserID:        "u-1",
		Subtotal:      d("40.00"),
		Discount:      decimal.Zero,
		Shipping:      d("7.90"),
		Tax:           decimal.Zero,
		Total:         d("47.90"),
		Status:        checkout.StatusPending,
		PaymentStatus: checkout.PaymentPending,
		Items: []checkout.OrderItem{{
			ID:        "item-1",
			OrderID:   "ord-1",
			ProductID: "p1",
			Quantity:  2,
			UnitPrice: d("20.00"),
			LineTotal: d("40.00"),
		}},
		ShippingAddress: []byte(`{"street":"1 Main St"}`),
		PaymentMethod:   "card",
		CreatedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSubmitOrder(t *testing.T) {
	svc := &mockCheckout{submitRes: &checkout.SubmitResult{Order: sampleOrder()}}
	router := newTestRouter(svc, newProductRepo())

	body := orderRequest{
		Items:           []cartLineRequest{{ProductID: "p1", Quantity: 2}},
		OrderNumber:     "OM-ABCDEF123456",
		ShippingAddress: json.RawMessage(`{"street":"1 Main St"}`),
		PaymentMethod:   "card",
	}
	rec := doRequest(t, router, http.MethodPost, "/api/order", body, authHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeResponse[orderResponse](t, rec)
	assert.Equal(t, "ord-1", resp.ID)
	assert.Equal(t, "OM-ABCDEF123456", resp.OrderNumber)
	assert.Equal(t, "pending", resp.Status)
	assert.InDelta(t, 47.90, resp.Total, 0.001)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 2, resp.Items[0].Quantity)

	assert.Equal(t, "u-1", svc.lastSubmit.UserID)
	assert.Equal(t, "OM-ABCDEF123456", svc.lastSubmit.OrderNumber)
	assert.JSONEq(t, `{"street":"1 Main St"}`, string(svc.lastSubmit.ShippingAddress))
}

func TestSubmitOrder_RequiresAPIKey(t *testing.T) {
	svc := &mockCheckout{submitRes: &checkout.SubmitResult{Order: sampleOrder()}}
	router := newTestRouter(svc, newProductRepo())

	body := orderRequest{
		Items:           []cartLineRequest{{ProductID: "p1", Quantity: 2}},
		ShippingAddress: json.RawMessage(`{"street":"1 Main St"}`),
		PaymentMethod:   "card",
	}

	t.Run("missing key", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/order", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/order", body,
			map[string]string{apiKeyHeader: "not-the-key"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSubmitOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{
			name:       "validation error returns 400",
			err:        &checkout.ValidationError{Field: "items", Reason: "required"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown product returns 422",
			err:        &checkout.ProductNotFoundError{ProductID: "ghost"},
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: "PRODUCT_NOT_FOUND",
		},
		{
			name:       "lost stock race returns 409",
			err:        &checkout.ConflictError{Resource: "product", ID: "p1"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "exhausted coupon returns 422",
			err:        &coupon.RejectedError{Code: "GONE", Reason: coupon.ReasonLimitReached},
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: "LIMIT_REACHED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCheckout{err: tt.err}
			router := newTestRouter(svc, newProductRepo())

			body := orderRequest{
				Items:           []cartLineRequest{{ProductID: "p1", Quantity: 1}},
				ShippingAddress: json.RawMessage(`{"street":"1 Main St"}`),
				PaymentMethod:   "card",
			}
			rec := doRequest(t, router, http.MethodPost, "/api/order", body, authHeaders())
			require.Equal(t, tt.wantStatus, rec.Code)

			resp := decodeResponse[errorResponse](t, rec)
			assert.Equal(t, tt.wantStatus, resp.Code)
			assert.Equal(t, tt.wantReason, resp.Reason)
		})
	}
}

func TestGetOrder(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &mockCheckout{order: sampleOrder()}
		router := newTestRouter(svc, newProductRepo())

		rec := doRequest(t, router, http.MethodGet, "/api/order/ord-1", nil, authHeaders())
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeResponse[orderResponse](t, rec)
		assert.Equal(t, "ord-1", resp.ID)
		assert.Equal(t, "ord-1", svc.lastOrderID)
	})

	t.Run("not found returns 404", func(t *testing.T) {
		svc := &mockCheckout{err: checkout.ErrOrderNotFound}
		router := newTestRouter(svc, newProductRepo())

		rec := doRequest(t, router, http.MethodGet, "/api/order/missing", nil, authHeaders())
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("requires api key", func(t *testing.T) {
		svc := &mockCheckout{order: sampleOrder()}
		router := newTestRouter(svc, newProductRepo())

		rec := doRequest(t, router, http.MethodGet, "/api/order/ord-1", nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
