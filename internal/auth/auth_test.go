package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mautops/branch-ops/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://sso.example.com/realms/ops"

// jwksServer 提供单个 RSA 公钥的 JWKS 端点
func jwksServer(t *testing.T, kid string, key *rsa.PublicKey) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// TestKeycloakTokenValidator 测试签名校验、issuer 校验和公司 claim 解析
func TestKeycloakTokenValidator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, "k1", &key.PublicKey)
	validator := auth.NewKeycloakTokenValidator(testIssuer, srv.URL, "branch_company")

	token := signToken(t, key, "k1", jwt.MapClaims{
		"iss":                testIssuer,
		"sub":                "u-42",
		"preferred_username": "alice",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"realm_access":       map[string]any{"roles": []string{"stock_manager"}},
		"branch_company":     "c1",
	})

	claims, err := validator.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-42", claims.Sub)
	assert.Equal(t, "alice", claims.PreferredUsername)
	assert.Equal(t, []string{"stock_manager"}, claims.RealmAccess.Roles)
	assert.Equal(t, "c1", claims.CompanyID)

	t.Run("wrong issuer", func(t *testing.T) {
		bad := signToken(t, key, "k1", jwt.MapClaims{
			"iss": "https://elsewhere",
			"sub": "u-42",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err := validator.ValidateToken(bad)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		bad := signToken(t, key, "k1", jwt.MapClaims{
			"iss": testIssuer,
			"sub": "u-42",
			"exp": time.Now().Add(-time.Minute).Unix(),
		})
		_, err := validator.ValidateToken(bad)
		assert.Error(t, err)
	})

	t.Run("unknown kid", func(t *testing.T) {
		bad := signToken(t, key, "k2", jwt.MapClaims{
			"iss": testIssuer,
			"sub": "u-42",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err := validator.ValidateToken(bad)
		assert.Error(t, err)
	})
}

type stubValidator struct {
	claims *auth.KeycloakClaims
}

func (s stubValidator) ValidateToken(token string) (*auth.KeycloakClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return s.claims, nil
}

// TestKeycloakAuthMiddleware 测试认证中间件写入上下文
func TestKeycloakAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	claims := &auth.KeycloakClaims{Sub: "u-1", CompanyID: "c1"}
	router := gin.New()
	router.Use(auth.KeycloakAuthMiddleware(stubValidator{claims: claims}))
	router.GET("/me", func(c *gin.Context) {
		got, ok := auth.ClaimsFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "company": got.CompanyID})
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"user_id":"u-1","company":"c1"}`, w.Body.String())
			}
		})
	}
}

type stubChecker struct {
	allowed map[string]bool
	err     error
	calls   int
}

func (s *stubChecker) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.allowed[userID+"#"+relation+"@"+objectType+":"+objectID], nil
}

// TestPermissionMiddleware 测试基于路由参数的关系检查
func TestPermissionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := &stubChecker{allowed: map[string]bool{"u-1#manager@branch:b1": true}}

	newRouter := func(userID string) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			if userID != "" {
				c.Set("user_id", userID)
			}
		})
		router.POST("/branches/:id/locations", auth.PermissionMiddleware(checker, "branch", "manager", "id"), func(c *gin.Context) {
			c.Status(http.StatusCreated)
		})
		return router
	}

	do := func(router *gin.Engine, branchID string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/branches/"+branchID+"/locations", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, do(newRouter("u-1"), "b1"))
	assert.Equal(t, http.StatusForbidden, do(newRouter("u-1"), "b2"))
	assert.Equal(t, http.StatusForbidden, do(newRouter("u-2"), "b1"))
	assert.Equal(t, http.StatusUnauthorized, do(newRouter(""), "b1"))

	checker.err = errors.New("fga down")
	assert.Equal(t, http.StatusInternalServerError, do(newRouter("u-1"), "b1"))
}

// TestPermissionCache 测试缓存读写和过期
func TestPermissionCache(t *testing.T) {
	cache := auth.NewPermissionCache(50 * time.Millisecond)
	cache.Set("user:u-1:approver:branch:b1", true)

	value, found := cache.Get("user:u-1:approver:branch:b1")
	assert.True(t, found)
	assert.True(t, value)

	_, found = cache.Get("user:u-2:approver:branch:b1")
	assert.False(t, found)

	time.Sleep(80 * time.Millisecond)
	_, found = cache.Get("user:u-1:approver:branch:b1")
	assert.False(t, found)

	cache.Set("k", false)
	cache.Clear()
	_, found = cache.Get("k")
	assert.False(t, found)
}

// TestGetPermissionModel 测试授权模型包含审批相关关系
func TestGetPermissionModel(t *testing.T) {
	model := auth.GetPermissionModel()
	for _, relation := range []string{"define approver", "define stock_manager", "define officer"} {
		assert.Contains(t, model, relation)
	}
}

// fakeRelations 内存关系存储,manager 隐含 approver
type fakeRelations struct {
	stubChecker
	tuples map[string]bool
}

func (f *fakeRelations) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	f.calls++
	if f.tuples[userID+"#"+relation+"@"+objectType+":"+objectID] {
		return true, nil
	}
	return relation == "approver" && f.tuples[userID+"#manager@"+objectType+":"+objectID], nil
}

func (f *fakeRelations) SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	f.tuples[userID+"#"+relation+"@"+objectType+":"+objectID] = true
	return nil
}

func (f *fakeRelations) DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	delete(f.tuples, userID+"#"+relation+"@"+objectType+":"+objectID)
	return nil
}

// TestCachedOpenFGAClient 测试缓存命中以及写入关系后推导关系失效
func TestCachedOpenFGAClient(t *testing.T) {
	ctx := context.Background()
	backend := &fakeRelations{tuples: map[string]bool{}}
	cached := auth.NewCachedOpenFGAClient(backend, auth.NewPermissionCache(time.Minute))

	ok, err := cached.CheckPermission(ctx, "u-1", "approver", "branch", "b1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = cached.CheckPermission(ctx, "u-1", "approver", "branch", "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)

	require.NoError(t, cached.SetRelation(ctx, "u-1", "manager", "branch", "b1"))
	ok, err = cached.CheckPermission(ctx, "u-1", "approver", "branch", "b1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, backend.calls)

	require.NoError(t, cached.DeleteRelation(ctx, "u-1", "manager", "branch", "b1"))
	ok, err = cached.CheckPermission(ctx, "u-1", "approver", "branch", "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}
