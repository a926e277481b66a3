package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/api"
	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/database"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/storage"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupRouter 使用内存数据库和请求头身份构建完整路由
func setupRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := service.SystemClock
	policy := service.NewRolePolicy(map[service.ApprovalAction]string{
		service.ActionApproveBranchRequest:      "branch_manager",
		service.ActionApproveTransferRequest:    "stock_manager",
		service.ActionOfficerApproveRequisition: "procurement_officer",
	})
	audit := service.NewAuditLogService(db)
	sequences := service.NewSequenceGenerator(db)
	sync := service.NewStatusSynchronizer(db, audit, clock, nil)
	serials := service.NewSerialService(db, config.SerialConfig{Prefix: "PF", MaxBatch: 100}, sequences, service.NewLocalLocker(), audit, clock, nil)
	documents := service.NewDocumentService(db, sequences, sync, audit, clock, nil, serials)
	branches := service.NewBranchRequestService(db, sequences, documents, policy, audit, clock, nil)
	transfers := service.NewTransferRequestService(db, sequences, documents, policy, audit, clock, nil)
	requisitions := service.NewRequisitionService(db, sequences, documents, policy, audit, clock, nil)

	return api.SetupRoutes(api.RouterOptions{
		Config: &config.Config{},
		DB:     db,
	}, api.Services{
		Branches:     branches,
		Transfers:    transfers,
		Requisitions: requisitions,
		Documents:    documents,
		Serials:      serials,
		Catalog:      service.NewCatalogService(db, sequences, audit, clock, nil, ""),
		Reports:      service.NewReportService(serials, branches, transfers, requisitions, storage.NewLocalStore(t.TempDir()), clock),
		Query:        service.NewQueryService(db, audit),
		Statistics:   service.NewStatisticsService(db),
	})
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

type client struct {
	t      *testing.T
	router *gin.Engine
}

// do 以指定用户和角色发送请求
func (c client) do(method, path, user, roles string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-Company-ID", "c1")
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func decodeData(t *testing.T, resp apiResponse, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

type entity struct {
	ID         string `json:"id"`
	Reference  string `json:"reference"`
	State      string `json:"state"`
	TransferID string `json:"transfer_id"`
}

// TestRoutes_BranchRequestFlow 测试分支调拨申请从创建到收货的完整 HTTP 流程
func TestRoutes_BranchRequestFlow(t *testing.T) {
	c := client{t: t, router: setupRouter(t)}

	w, resp := c.do(http.MethodPost, "/api/v1/branches", "u-admin", "", map[string]string{"code": "SRC", "name": "Main Warehouse"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var source entity
	decodeData(t, resp, &source)

	w, resp = c.do(http.MethodPost, "/api/v1/branches", "u-admin", "", map[string]string{"code": "DST", "name": "Downtown"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var dest entity
	decodeData(t, resp, &dest)

	w, resp = c.do(http.MethodPost, "/api/v1/products", "u-admin", "", map[string]string{"name": "Widget"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var product entity
	decodeData(t, resp, &product)

	w, resp = c.do(http.MethodPost, "/api/v1/branch-requests", "u-req", "", map[string]interface{}{
		"source_branch_id":      source.ID,
		"destination_branch_id": dest.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var req entity
	decodeData(t, resp, &req)
	assert.Equal(t, "draft", req.State)

	// 无明细时提交失败
	w, resp = c.do(http.MethodPost, "/api/v1/branch-requests/"+req.ID+"/submit", "u-req", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, workflow.CodeNoLines, resp.Reason)

	w, _ = c.do(http.MethodPut, "/api/v1/branch-requests/"+req.ID+"/lines", "u-req", "", []map[string]interface{}{
		{"product_id": product.ID, "quantity": "3"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = c.do(http.MethodPost, "/api/v1/branch-requests/"+req.ID+"/submit", "u-req", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 没有审批角色
	w, _ = c.do(http.MethodPost, "/api/v1/branch-requests/"+req.ID+"/approve", "u-req", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = c.do(http.MethodPost, "/api/v1/branch-requests/"+req.ID+"/approve", "u-mgr", "branch_manager", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, resp, &req)
	assert.Equal(t, "approved", req.State)
	require.NotEmpty(t, req.TransferID)

	// 已审批的申请不能再次审批
	w, _ = c.do(http.MethodPost, "/api/v1/branch-requests/"+req.ID+"/approve", "u-mgr", "branch_manager", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = c.do(http.MethodPost, "/api/v1/transfers/"+req.TransferID+"/validate", "u-mgr", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, resp = c.do(http.MethodGet, "/api/v1/branch-requests/"+req.ID, "u-req", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, resp, &req)
	assert.Equal(t, "received", req.State)

	w, resp = c.do(http.MethodGet, "/api/v1/branch-requests/"+req.ID+"/history", "u-req", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []map[string]interface{}
	decodeData(t, resp, &history)
	assert.NotEmpty(t, history)

	w, resp = c.do(http.MethodGet, "/api/v1/branch-requests?state=received", "u-req", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list []entity
	decodeData(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, req.ID, list[0].ID)
}

// TestRoutes_RequiresActor 测试缺少身份头时拒绝访问
func TestRoutes_RequiresActor(t *testing.T) {
	c := client{t: t, router: setupRouter(t)}

	w, _ := c.do(http.MethodGet, "/api/v1/branch-requests", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = c.do(http.MethodGet, "/api/v1/branch-requests/missing-id", "u-req", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = c.do(http.MethodGet, "/api/v1/branch-requests/bad%20id", "u-req", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := c.do(http.MethodGet, "/no/such/route", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route not found", resp.Message)
}

// TestRoutes_Health 测试健康检查
func TestRoutes_Health(t *testing.T) {
	router := setupRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Equal(t, "not configured", body.Checks["redis"])
}

// TestRequestIDMiddleware 测试生成和透传请求 ID
func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RequestIDMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	generated := w.Header().Get(api.RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(api.RequestIDHeader, "custom-request-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "custom-request-id", w.Header().Get(api.RequestIDHeader))
}

// TestHandleError 测试领域错误到 HTTP 状态码的映射
func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"precondition", workflow.Precondition(workflow.CodeReasonRequired, "reason required"), http.StatusBadRequest, workflow.CodeReasonRequired},
		{"transition", &workflow.TransitionError{Kind: workflow.KindBranchRequest, From: workflow.StateDone, To: workflow.StateApproved}, http.StatusConflict, ""},
		{"conflict", &workflow.ConflictError{Message: "duplicate"}, http.StatusConflict, ""},
		{"duplicate key", fmt.Errorf("failed to create serials: %w", gorm.ErrDuplicatedKey), http.StatusConflict, ""},
		{"permission", &workflow.PermissionError{Actor: "u-1", Action: "approve"}, http.StatusForbidden, ""},
		{"not found", fmt.Errorf("failed to load request: %w", workflow.ErrNotFound), http.StatusNotFound, ""},
		{"configuration", &workflow.ConfigurationError{Resource: "transit location", Owner: "SRC"}, http.StatusUnprocessableEntity, ""},
		{"lock", service.ErrLockNotObtained, http.StatusServiceUnavailable, ""},
		{"api error", &api.APIError{Code: http.StatusTeapot, Message: "teapot"}, http.StatusTeapot, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/", func(c *gin.Context) { api.HandleError(c, tt.err) })
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.status, w.Code)
			var resp apiResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.reason, resp.Reason)
		})
	}
}

// TestHTTPSRedirectMiddleware 测试 HTTP 请求重定向
func TestHTTPSRedirectMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.HTTPSRedirectMiddleware(), api.SecurityHeadersMiddleware(true))
	router.GET("/api/v1/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://ops.example.com/api/v1/ping", nil))
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "https://ops.example.com/api/v1/ping", w.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "http://ops.example.com/api/v1/ping", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://ops.example.com/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
