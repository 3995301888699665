package marketplace_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketplace-settlements/internal/database"
	"github.com/ksred/marketplace-settlements/internal/marketplace"
	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func testService(t *testing.T) *marketplace.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(sqlite.Open(dsn))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return marketplace.NewService(db)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func wholesale(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func TestUpsertPartners(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	result, err := svc.UpsertPartners(ctx, []types.Partner{
		{PartnerID: "PB", Name: "Beta Supply", Email: "beta@example.com"},
		{PartnerID: "PA", Name: "Alpha Goods", Email: "alpha@example.com"},
	}, "partners-1")
	require.NoError(t, err)
	assert.Equal(t, marketplace.ResourcePartners, result.ResourceType)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, []string{"PB", "PA"}, result.IDs)
	assert.False(t, result.Replayed)

	// A second push under a new key updates in place.
	_, err = svc.UpsertPartners(ctx, []types.Partner{
		{PartnerID: "PA", Name: "Alpha Goods Ltd", Email: "finance@alpha.example.com", Status: "suspended"},
	}, "partners-2")
	require.NoError(t, err)

	partners, err := svc.ListPartners(ctx)
	require.NoError(t, err)
	require.Len(t, partners, 2)
	assert.Equal(t, "PA", partners[0].PartnerID)
	assert.Equal(t, "Alpha Goods Ltd", partners[0].Name)
	assert.Equal(t, "finance@alpha.example.com", partners[0].Email)
	assert.Equal(t, "suspended", partners[0].Status)
	assert.Equal(t, "active", partners[1].Status, "status defaults to active")

	partner, err := svc.GetPartner(ctx, "PB")
	require.NoError(t, err)
	require.NotNil(t, partner)
	assert.Equal(t, "Beta Supply", partner.Name)

	partner, err = svc.GetPartner(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, partner)
}

func TestUpsert_IdempotentReplay(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	_, err := svc.UpsertPartners(ctx, []types.Partner{{PartnerID: "PA", Name: "Alpha Goods"}}, "key-1")
	require.NoError(t, err)

	// Same key, different body: the stored result is returned and nothing is written.
	result, err := svc.UpsertPartners(ctx, []types.Partner{{PartnerID: "PZ", Name: "Zeta"}}, "key-1")
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, []string{"PA"}, result.IDs)

	partners, err := svc.ListPartners(ctx)
	require.NoError(t, err)
	assert.Len(t, partners, 1)

	_, err = svc.UpsertProducts(ctx, []types.Product{
		{ProductID: "OWN", Name: "Own", Type: types.ProductTypePartnerUploaded, Price: dec("5"), PartnerID: "PA"},
	}, "key-1")
	assert.ErrorIs(t, err, marketplace.ErrIdempotencyKeyReused)
}

func TestUpsertProducts_Validation(t *testing.T) {
	tests := []struct {
		name    string
		product types.Product
		wantErr error
	}{
		{
			name:    "missing id",
			product: types.Product{Type: types.ProductTypePartnerUploaded},
			wantErr: marketplace.ErrInvalidRecord,
		},
		{
			name:    "platform product without wholesale cost",
			product: types.Product{ProductID: "MAIN", Type: types.ProductTypePlatformSupplied, Price: dec("10")},
			wantErr: marketplace.ErrInvalidRecord,
		},
		{
			name:    "negative wholesale cost",
			product: types.Product{ProductID: "MAIN", Type: types.ProductTypePlatformSupplied, Price: dec("10"), WholesaleCost: wholesale("-1")},
			wantErr: marketplace.ErrInvalidRecord,
		},
		{
			name:    "negative price",
			product: types.Product{ProductID: "OWN", Type: types.ProductTypePartnerUploaded, Price: dec("-3")},
			wantErr: marketplace.ErrInvalidRecord,
		},
		{
			name:    "unknown type",
			product: types.Product{ProductID: "ODD", Type: "consignment", Price: dec("10")},
			wantErr: marketplace.ErrInvalidRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testService(t)
			_, err := svc.UpsertProducts(context.Background(), []types.Product{tt.product}, "k")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	svc := testService(t)
	_, err := svc.UpsertProducts(context.Background(), nil, "k")
	assert.ErrorIs(t, err, marketplace.ErrEmptyBatch)

	_, err = svc.UpsertProducts(context.Background(), []types.Product{
		{ProductID: "A", Type: types.ProductTypePartnerUploaded},
		{ProductID: "A", Type: types.ProductTypePartnerUploaded},
	}, "k")
	assert.ErrorIs(t, err, marketplace.ErrInvalidRecord)
}

func TestUpsertProducts_Stores(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	_, err := svc.UpsertProducts(ctx, []types.Product{
		{ProductID: "MAIN1", Name: "Desk Lamp", Type: types.ProductTypePlatformSupplied, Price: dec("100"), WholesaleCost: wholesale("60")},
		{ProductID: "OWN_A", Name: "Tote", Type: types.ProductTypePartnerUploaded, Price: dec("30"), PartnerID: "PA", WholesaleCost: wholesale("12")},
	}, "products-1")
	require.NoError(t, err)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "MAIN1", products[0].ProductID)
	require.True(t, products[0].WholesaleCost.Valid)
	assert.True(t, products[0].WholesaleCost.Decimal.Equal(dec("60")))

	assert.Equal(t, "OWN_A", products[1].ProductID)
	assert.False(t, products[1].WholesaleCost.Valid, "partner products carry no wholesale cost")
	assert.Equal(t, "PA", products[1].PartnerID)

	// Price changes replace the catalog row.
	_, err = svc.UpsertProducts(ctx, []types.Product{
		{ProductID: "MAIN1", Name: "Desk Lamp", Type: types.ProductTypePlatformSupplied, Price: dec("120"), WholesaleCost: wholesale("65")},
	}, "products-2")
	require.NoError(t, err)
	products, err = svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.True(t, products[0].Price.Equal(dec("120")))
	assert.True(t, products[0].WholesaleCost.Decimal.Equal(dec("65")))
}

func TestUpsertOrders(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	placed := time.Date(2024, 8, 14, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))

	result, err := svc.UpsertOrders(ctx, []types.Order{
		{
			OrderID:   "O1",
			PartnerID: "PA",
			CreatedAt: placed,
			Items: []types.OrderItem{
				{ProductID: "MAIN1", Price: dec("100"), Quantity: 2},
				{ProductID: "OWN_A", Price: dec("30"), Quantity: 1},
			},
		},
	}, "orders-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)

	order, err := svc.GetOrder(ctx, "O1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "O1", order.OrderNumber, "order number defaults to the id")
	assert.True(t, order.CreatedAt.Equal(placed))
	assert.Len(t, order.Items, 2)

	// Re-pushing the order replaces its items.
	_, err = svc.UpsertOrders(ctx, []types.Order{
		{
			OrderID:     "O1",
			OrderNumber: "#1001",
			PartnerID:   "PA",
			CreatedAt:   placed,
			Items:       []types.OrderItem{{ProductID: "MAIN1", Price: dec("95"), Quantity: 1}},
		},
	}, "orders-2")
	require.NoError(t, err)

	order, err = svc.GetOrder(ctx, "O1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "#1001", order.OrderNumber)
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].Price.Equal(dec("95")))

	order, err = svc.GetOrder(ctx, "O404")
	require.NoError(t, err)
	assert.Nil(t, order)
}

func orderWith(at time.Time, item types.OrderItem) types.Order {
	return types.Order{OrderID: "O1", PartnerID: "PA", CreatedAt: at, Items: []types.OrderItem{item}}
}

func TestUpsertOrders_Validation(t *testing.T) {
	at := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		order types.Order
	}{
		{name: "missing id", order: types.Order{PartnerID: "PA", CreatedAt: at}},
		{name: "missing partner", order: types.Order{OrderID: "O1", CreatedAt: at}},
		{name: "missing time", order: types.Order{OrderID: "O1", PartnerID: "PA"}},
		{name: "zero quantity", order: orderWith(at, types.OrderItem{ProductID: "X", Price: dec("1"), Quantity: 0})},
		{name: "missing product", order: orderWith(at, types.OrderItem{Price: dec("1"), Quantity: 1})},
		{name: "negative price", order: orderWith(at, types.OrderItem{ProductID: "X", Price: dec("-1"), Quantity: 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testService(t)
			_, err := svc.UpsertOrders(context.Background(), []types.Order{tt.order}, "k")
			assert.ErrorIs(t, err, marketplace.ErrInvalidRecord)
		})
	}
}

func TestListOrders_Window(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	var orders []types.Order
	for i, at := range []time.Time{
		time.Date(2024, 7, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 8, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
	} {
		orders = append(orders, types.Order{
			OrderID:   fmt.Sprintf("O%d", i),
			PartnerID: "PA",
			CreatedAt: at,
			Items:     []types.OrderItem{{ProductID: "MAIN1", Price: dec("10"), Quantity: 1}},
		})
	}
	_, err := svc.UpsertOrders(ctx, orders, "orders")
	require.NoError(t, err)

	got, err := svc.ListOrders(ctx,
		time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "O1", got[0].OrderID)
	assert.Equal(t, "O2", got[1].OrderID)
	assert.Len(t, got[0].Items, 1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestIngestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := marketplace.NewGinHandlers(testService(t))

	router := gin.New()
	router.POST("/partners", h.UpsertPartnersHandler())
	router.POST("/orders", h.UpsertOrdersHandler())
	router.GET("/orders/:order_id", h.GetOrderHandler())

	do := func(method, path, key, body string) (*httptest.ResponseRecorder, envelope) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(marketplace.IdempotencyKeyHeader, key)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		var env envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
		return w, env
	}

	orderBody := `{"orders":[{"id":"O1","partner_id":"PA","created_at":"2024-08-02T10:00:00Z","items":[{"product_id":"MAIN1","price":"100","quantity":1}]}]}`

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   string
		status int
		code   string
	}{
		{
			name:   "stores partners",
			method: http.MethodPost,
			path:   "/partners",
			key:    "p1",
			body:   `{"partners":[{"id":"PA","name":"Alpha Goods","email":"alpha@example.com"}]}`,
			status: http.StatusCreated,
		},
		{
			name:   "replays partners",
			method: http.MethodPost,
			path:   "/partners",
			key:    "p1",
			body:   `{"partners":[{"id":"PA","name":"Alpha Goods","email":"alpha@example.com"}]}`,
			status: http.StatusOK,
		},
		{
			name:   "missing key",
			method: http.MethodPost,
			path:   "/partners",
			body:   `{"partners":[{"id":"PA","name":"Alpha Goods"}]}`,
			status: http.StatusBadRequest,
			code:   "BAD_REQUEST",
		},
		{
			name:   "malformed body",
			method: http.MethodPost,
			path:   "/partners",
			key:    "p2",
			body:   `{"partners":`,
			status: http.StatusBadRequest,
			code:   "BAD_REQUEST",
		},
		{
			name:   "duplicate partner",
			method: http.MethodPost,
			path:   "/partners",
			key:    "p3",
			body:   `{"partners":[{"id":"PA","name":"A"},{"id":"PA","name":"B"}]}`,
			status: http.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name:   "key reused for orders",
			method: http.MethodPost,
			path:   "/orders",
			key:    "p1",
			body:   orderBody,
			status: http.StatusConflict,
			code:   "CONFLICT",
		},
		{
			name:   "stores orders",
			method: http.MethodPost,
			path:   "/orders",
			key:    "o1",
			body:   orderBody,
			status: http.StatusCreated,
		},
		{
			name:   "replays orders",
			method: http.MethodPost,
			path:   "/orders",
			key:    "o1",
			body:   orderBody,
			status: http.StatusOK,
		},
		{
			name:   "reads order",
			method: http.MethodGet,
			path:   "/orders/O1",
			status: http.StatusOK,
		},
		{
			name:   "unknown order",
			method: http.MethodGet,
			path:   "/orders/O9",
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(tt.method, tt.path, tt.key, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code == "" {
				assert.True(t, env.Success)
				return
			}
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}
