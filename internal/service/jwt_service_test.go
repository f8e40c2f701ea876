package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/config"
	"github.com/MorseWayne/ev_dealer/internal/domain"
)

const testJWTSecret = "test-secret-key"

func newTestJWT(accessTTL time.Duration) JWTService {
	cfg := &config.Config{}
	cfg.App.Name = "ev-dealer-test"
	cfg.JWT.Secret = testJWTSecret
	cfg.JWT.AccessTokenTTL = accessTTL
	cfg.JWT.RefreshTokenTTL = 24 * time.Hour
	return NewJWTService(cfg, zap.NewNop())
}

// signRaw 直接签发任意 claims，用于构造服务本身不会签发的令牌
func signRaw(t *testing.T, claims *Claims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func rawClaims(role domain.UserRole, issuer string, notBefore time.Time) *Claims {
	now := time.Now()
	return &Claims{
		UserID: 7, Username: "raw", Role: role, DealerID: 3, Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(notBefore),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestJWT_RoundTripCarriesDealerScope(t *testing.T) {
	svc := newTestJWT(15 * time.Minute)
	user := &domain.User{ID: 123, Username: "store-manager", Role: domain.UserRoleDealerManager, DealerID: 42}

	pair, err := svc.GenerateTokenPair(user)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokenTypeAccess, claims.Type)
	assert.Equal(t, "123", claims.Subject)

	actor := claims.User()
	assert.Equal(t, user.ID, actor.ID)
	assert.Equal(t, user.Role, actor.Role)
	assert.True(t, actor.CanActForDealer(42))
	assert.False(t, actor.CanActForDealer(43))
	assert.False(t, actor.IsManufacturer())

	refresh, err := svc.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tokenTypeRefresh, refresh.Type)
}

func TestJWT_GenerateRejectsBadUsers(t *testing.T) {
	svc := newTestJWT(time.Minute)

	tests := []struct {
		name string
		user *domain.User
	}{
		{"unknown role", &domain.User{ID: 1, Role: "customer"}},
		{"dealer role without dealer", &domain.User{ID: 1, Role: domain.UserRoleDealerStaff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GenerateTokenPair(tt.user)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	pair, err := svc.GenerateTokenPair(&domain.User{ID: 2, Role: domain.UserRoleEVMStaff})
	require.NoError(t, err, "manufacturer accounts have no dealer")
	assert.NotEmpty(t, pair.AccessToken)
}

func TestJWT_ValidateRejections(t *testing.T) {
	svc := newTestJWT(time.Minute)
	pair, err := svc.GenerateTokenPair(&domain.User{ID: 1, Username: "admin", Role: domain.UserRoleAdmin})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"refresh used as access", pair.RefreshToken, ErrInvalidToken},
		{"tampered signature", pair.AccessToken[:len(pair.AccessToken)-2] + "xx", ErrInvalidToken},
		{"other secret", signRaw(t, rawClaims(domain.UserRoleAdmin, "ev-dealer-test", time.Now()), "other"), ErrInvalidToken},
		{"other issuer", signRaw(t, rawClaims(domain.UserRoleAdmin, "someone-else", time.Now()), testJWTSecret), ErrInvalidToken},
		{"unregistered role", signRaw(t, rawClaims("superuser", "ev-dealer-test", time.Now()), testJWTSecret), ErrInvalidToken},
		{"not yet valid", signRaw(t, rawClaims(domain.UserRoleAdmin, "ev-dealer-test", time.Now().Add(time.Hour)), testJWTSecret), ErrTokenNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = svc.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Expired(t *testing.T) {
	svc := newTestJWT(-time.Second)
	pair, err := svc.GenerateTokenPair(&domain.User{ID: 1, Role: domain.UserRoleAdmin})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// 刷新令牌仍有效
	_, err = svc.ValidateRefreshToken(pair.RefreshToken)
	assert.NoError(t, err)
}

func TestJWT_RefreshTokenPair(t *testing.T) {
	svc := newTestJWT(time.Minute)
	pair, err := svc.GenerateTokenPair(&domain.User{ID: 9, Username: "sales", Role: domain.UserRoleDealerStaff, DealerID: 5})
	require.NoError(t, err)

	next, err := svc.RefreshTokenPair(pair.RefreshToken)
	require.NoError(t, err)
	claims, err := svc.ValidateAccessToken(next.AccessToken)
	require.NoError(t, err)
	assert.EqualValues(t, 9, claims.UserID)
	assert.EqualValues(t, 5, claims.DealerID)

	_, err = svc.RefreshTokenPair(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
