package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/middleware"
	"github.com/MorseWayne/ev_dealer/internal/resp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testAdmin = &domain.User{ID: 1, Username: "admin", Role: domain.UserRoleAdmin}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// newEngine 模拟认证中间件，把操作人写入请求上下文
func newEngine(user *domain.User) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if user != nil {
			c.Request = c.Request.WithContext(middleware.WithUser(c.Request.Context(), user))
		}
		c.Next()
	})
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestAllocationHandler_Create(t *testing.T) {
	var gotActor *domain.User
	ledger := &mockLedgerService{
		createFunc: func(ctx context.Context, actor *domain.User, req *domain.CreateAllocationRequest) (*domain.DealerAllocation, error) {
			gotActor = actor
			return &domain.DealerAllocation{
				ID: 7, DealerID: req.DealerID, ProductID: req.ProductID,
				Quantity: req.Quantity, Status: domain.AllocationStatusPending,
			}, nil
		},
	}
	h := NewAllocationHandler(ledger, nil)
	r := newEngine(testAdmin)
	r.POST("/allocations", h.Create)

	w, env := do(t, r, http.MethodPost, "/allocations", `{"dealer_id":3,"product_id":5,"quantity":2}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	assert.Same(t, testAdmin, gotActor)

	var a domain.DealerAllocation
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.EqualValues(t, 7, a.ID)
	assert.Equal(t, domain.AllocationStatusPending, a.Status)
}

func TestAllocationHandler_CreateValidation(t *testing.T) {
	called := false
	ledger := &mockLedgerService{
		createFunc: func(ctx context.Context, actor *domain.User, req *domain.CreateAllocationRequest) (*domain.DealerAllocation, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAllocationHandler(ledger, nil)
	r := newEngine(testAdmin)
	r.POST("/allocations", h.Create)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing quantity", `{"dealer_id":3,"product_id":5}`, "quantity is required"},
		{"negative quantity", `{"dealer_id":3,"product_id":5,"quantity":-1}`, "quantity must be at least 1"},
		{"malformed", `{"dealer_id":`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/allocations", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, resp.CodeInvalidParam, env.Code)
			assert.Equal(t, tt.message, env.Message)
		})
	}
	assert.False(t, called)
}

func TestAllocationHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		code    int
		message string
	}{
		{fmt.Errorf("%w: allocation 9", domain.ErrNotFound), http.StatusNotFound, resp.CodeNotFound, ""},
		{fmt.Errorf("%w: only 1 left", domain.ErrInsufficientStock), http.StatusUnprocessableEntity, resp.CodeInsufficientStock, ""},
		{fmt.Errorf("%w: delivered -> pending", domain.ErrInvalidTransition), http.StatusUnprocessableEntity, resp.CodeInvalidTransition, ""},
		{fmt.Errorf("%w: LVIN0001", domain.ErrDuplicateVin), http.StatusConflict, resp.CodeDuplicateVin, ""},
		{domain.ErrForbidden, http.StatusForbidden, resp.CodeForbidden, ""},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, resp.CodeTimeout, "request timeout"},
		{errors.New("connection refused"), http.StatusInternalServerError, resp.CodeInternalError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ledger := &mockLedgerService{
				getFunc: func(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error) {
					return nil, tt.err
				},
			}
			r := newEngine(testAdmin)
			r.GET("/allocations/:id", NewAllocationHandler(ledger, nil).Get)

			w, env := do(t, r, http.MethodGet, "/allocations/9", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Message)
			} else {
				assert.Equal(t, tt.err.Error(), env.Message)
			}
		})
	}
}

func TestAllocationHandler_PathParams(t *testing.T) {
	var gotID int64
	var gotPosition int
	var gotVIN string
	ledger := &mockLedgerService{
		editVinFunc: func(ctx context.Context, actor *domain.User, id int64, position int, req *domain.EditVinRequest) (*domain.DealerAllocation, error) {
			gotID, gotPosition, gotVIN = id, position, req.VIN
			return &domain.DealerAllocation{ID: id}, nil
		},
	}
	h := NewAllocationHandler(ledger, nil)
	r := newEngine(testAdmin)
	r.PUT("/allocations/:id/vins/:position", h.EditVin)
	r.GET("/allocations/:id", h.Get)

	w, _ := do(t, r, http.MethodPut, "/allocations/4/vins/1", `{"vin":"LVIN0002"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, gotID)
	assert.Equal(t, 1, gotPosition)
	assert.Equal(t, "LVIN0002", gotVIN)

	w, env := do(t, r, http.MethodPut, "/allocations/4/vins/-1", `{"vin":"LVIN0002"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid position", env.Message)

	w, env = do(t, r, http.MethodGet, "/allocations/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid id", env.Message)
}

func TestAllocationHandler_Delete(t *testing.T) {
	deleted := int64(0)
	ledger := &mockLedgerService{
		deleteFunc: func(ctx context.Context, actor *domain.User, id int64) error {
			deleted = id
			return nil
		},
	}
	r := newEngine(testAdmin)
	r.DELETE("/allocations/:id", NewAllocationHandler(ledger, nil).Delete)

	w, env := do(t, r, http.MethodDelete, "/allocations/12", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.EqualValues(t, 12, deleted)
}

func TestOrderHandler_TransitionNotes(t *testing.T) {
	type call struct {
		op    string
		id    int64
		notes string
	}
	var calls []call
	orders := &mockOrderService{
		transitionFunc: func(op string, id int64, notes string) (*domain.Order, error) {
			calls = append(calls, call{op, id, notes})
			if op == "refund" {
				return nil, fmt.Errorf("%w: pending -> refunded", domain.ErrInvalidTransition)
			}
			return &domain.Order{ID: id}, nil
		},
	}
	h := NewOrderHandler(orders, nil)
	r := newEngine(testAdmin)
	r.POST("/orders/:id/submit", h.Submit)
	r.POST("/orders/:id/cancel", h.Cancel)
	r.POST("/orders/:id/refund", h.Refund)

	w, _ := do(t, r, http.MethodPost, "/orders/3/submit", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodPost, "/orders/3/cancel", `{"notes":"customer changed mind"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := do(t, r, http.MethodPost, "/orders/3/refund", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, resp.CodeInvalidTransition, env.Code)

	assert.Equal(t, []call{
		{"submit", 3, ""},
		{"cancel", 3, "customer changed mind"},
		{"refund", 3, ""},
	}, calls)
}

func TestOrderHandler_Create(t *testing.T) {
	orders := &mockOrderService{
		createFunc: func(ctx context.Context, actor *domain.User, req *domain.CreateOrderRequest) (*domain.Order, error) {
			if actor == nil {
				return nil, domain.ErrForbidden
			}
			return &domain.Order{ID: 1, DealerID: req.DealerID, Status: domain.OrderStatusDraft}, nil
		},
	}
	h := NewOrderHandler(orders, nil)

	r := newEngine(testAdmin)
	r.POST("/orders", h.Create)
	body := `{"dealer_id":2,"customer_name":"Alex","items":[{"product_id":5,"quantity":1}]}`
	w, env := do(t, r, http.MethodPost, "/orders", body)
	assert.Equal(t, http.StatusCreated, w.Code, env.Message)

	anon := newEngine(nil)
	anon.POST("/orders", h.Create)
	w, _ = do(t, anon, http.MethodPost, "/orders", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
