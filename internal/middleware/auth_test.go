package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/resp"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// MockJWTService 按令牌字符串返回预置 claims
type MockJWTService struct {
	validTokens   map[string]*service.Claims
	expiredTokens map[string]bool
}

func NewMockJWTService() *MockJWTService {
	return &MockJWTService{
		validTokens:   make(map[string]*service.Claims),
		expiredTokens: make(map[string]bool),
	}
}

func (m *MockJWTService) GenerateTokenPair(user *domain.User) (*service.TokenPair, error) {
	access := "access_" + user.Username
	refresh := "refresh_" + user.Username
	m.validTokens[access] = &service.Claims{UserID: user.ID, Username: user.Username, Role: user.Role, DealerID: user.DealerID, Type: "access"}
	m.validTokens[refresh] = &service.Claims{UserID: user.ID, Username: user.Username, Role: user.Role, DealerID: user.DealerID, Type: "refresh"}
	return &service.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *MockJWTService) ValidateAccessToken(token string) (*service.Claims, error) {
	if m.expiredTokens[token] {
		return nil, service.ErrTokenExpired
	}
	claims, ok := m.validTokens[token]
	if !ok || claims.Type != "access" {
		return nil, service.ErrInvalidToken
	}
	return claims, nil
}

func (m *MockJWTService) ValidateRefreshToken(token string) (*service.Claims, error) {
	claims, ok := m.validTokens[token]
	if !ok || claims.Type != "refresh" {
		return nil, service.ErrInvalidToken
	}
	return claims, nil
}

func (m *MockJWTService) RefreshTokenPair(token string) (*service.TokenPair, error) {
	return nil, service.ErrInvalidToken
}

func init() {
	gin.SetMode(gin.TestMode)
}

// newAuthEngine 认证后回显操作人
func newAuthEngine(jwt service.JWTService, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Auth(jwt, zap.NewNop())}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		user := UserFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"id":        user.ID,
			"role":      user.Role,
			"dealer_id": c.GetInt64(GinKeyDealerID),
		})
	})
	r.GET("/me", handlers...)
	return r
}

func doGet(r http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) resp.Response[any] {
	t.Helper()
	var body resp.Response[any]
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestAuth_Success(t *testing.T) {
	jwt := NewMockJWTService()
	pair, _ := jwt.GenerateTokenPair(&domain.User{ID: 7, Username: "mia", Role: domain.UserRoleDealerStaff, DealerID: 3})

	w := doGet(newAuthEngine(jwt), "Bearer "+pair.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got struct {
		ID       int64  `json:"id"`
		Role     string `json:"role"`
		DealerID int64  `json:"dealer_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || got.Role != "dealer_staff" || got.DealerID != 3 {
		t.Errorf("unexpected user: %+v", got)
	}
}

func TestAuth_Rejections(t *testing.T) {
	jwt := NewMockJWTService()
	pair, _ := jwt.GenerateTokenPair(&domain.User{ID: 1, Username: "ops", Role: domain.UserRoleAdmin})
	jwt.expiredTokens["stale"] = true

	tests := []struct {
		name   string
		header string
		msg    string
	}{
		{"missing header", "", "authorization header required"},
		{"wrong scheme", "Basic abc", "invalid authorization header format"},
		{"empty token", "Bearer ", "token required"},
		{"unknown token", "Bearer nope", "invalid token"},
		{"refresh token", "Bearer " + pair.RefreshToken, "invalid token"},
		{"expired", "Bearer stale", "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(newAuthEngine(jwt), tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			body := decodeError(t, w)
			if body.Code != resp.CodeUnauthorized || body.Message != tt.msg {
				t.Errorf("unexpected body: %+v", body)
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	jwt := NewMockJWTService()
	admin, _ := jwt.GenerateTokenPair(&domain.User{ID: 1, Username: "ops", Role: domain.UserRoleAdmin})
	staff, _ := jwt.GenerateTokenPair(&domain.User{ID: 2, Username: "evm", Role: domain.UserRoleEVMStaff})
	dealer, _ := jwt.GenerateTokenPair(&domain.User{ID: 3, Username: "shop", Role: domain.UserRoleDealerManager, DealerID: 9})

	r := newAuthEngine(jwt, RequireManufacturer(zap.NewNop()))

	if w := doGet(r, "Bearer "+admin.AccessToken); w.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", w.Code)
	}
	if w := doGet(r, "Bearer "+staff.AccessToken); w.Code != http.StatusOK {
		t.Errorf("evm staff: expected 200, got %d", w.Code)
	}
	w := doGet(r, "Bearer "+dealer.AccessToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("dealer: expected 403, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Code != resp.CodeForbidden {
		t.Errorf("unexpected code %d", body.Code)
	}
}

func TestRequireRoles_NoUser(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireRoles(zap.NewNop(), domain.UserRoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	w := doGet(r, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
