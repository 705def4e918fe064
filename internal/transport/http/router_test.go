package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "tempmail/lease/internal/auth/jwt"
	"tempmail/lease/internal/bot"
	"tempmail/lease/internal/config"
	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/health"
	"tempmail/lease/internal/middleware"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/service"
	"tempmail/lease/internal/storage/memory"
	"tempmail/lease/internal/websocket"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	jwt      *jwtpkg.Manager
	roles    *service.RoleService
	messages *service.MessageService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	validator := domain.NewAddressValidator([]string{"on11.ru"}, nil)
	quota := service.NewQuotaService(store, domain.DefaultPolicies())
	leases := service.NewLeaseService(store, quota, validator, service.LeaseOptions{}, zap.NewNop())
	messages := service.NewMessageService(store, zap.NewNop())
	roles := service.NewRoleService(quota)
	cleanup := service.NewCleanupService(leases, messages, 3*time.Hour, zap.NewNop())

	cfg := &config.Config{
		CORS:     config.CORSConfig{AllowedOrigins: []string{"*"}},
		Telegram: config.TelegramConfig{WebhookSecret: "hook-secret"},
	}
	manager := jwtpkg.NewManager(testSecret, "tempmail", time.Hour)

	router := NewRouter(RouterDependencies{
		Config:         cfg,
		LeaseService:   leases,
		MessageService: messages,
		RoleService:    roles,
		CleanupService: cleanup,
		Bot:            bot.New(leases, messages, roles, "", nil, zap.NewNop()),
		JWTManager:     manager,
		InboxHub:       websocket.NewHub(nil, zap.NewNop()),
		Health:         health.NewHealthChecker(store, nil, zap.NewNop()),
		Metrics:        monitoring.NewMetrics(),
		Logger:         zap.NewNop(),
	})

	return &testServer{router: router, jwt: manager, roles: roles, messages: messages}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.jwt.GenerateToken(userID)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data should be an object")
	return data
}

func TestLeaseRoutes(t *testing.T) {
	s := newTestServer(t)

	t.Run("未认证拒绝", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodPost, "/v1/leases", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("普通用户第四个随机邮箱超出配额", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rec, resp := s.do(t, http.MethodPost, "/v1/leases", "u1", nil)
			require.Equal(t, http.StatusCreated, rec.Code)
			assert.True(t, strings.HasSuffix(dataMap(t, resp)["email"].(string), "@on11.ru"))
		}

		rec, resp := s.do(t, http.MethodPost, "/v1/leases", "u1", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, GetErrorMessage(service.ErrQuotaExceeded), resp.Msg)
	})

	t.Run("自定义邮箱", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodPost, "/v1/leases/custom", "u2", map[string]string{"localPart": "Alice"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "alice@on11.ru", dataMap(t, resp)["email"])

		rec, _ = s.do(t, http.MethodPost, "/v1/leases/custom", "u3", map[string]string{"localPart": "alice"})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec, _ = s.do(t, http.MethodPost, "/v1/leases/custom", "u3", map[string]string{"localPart": "admin"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = s.do(t, http.MethodPost, "/v1/leases/custom", "u3", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("状态与存在性", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodGet, "/v1/leases/alice@on11.ru/status", "u2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "active", dataMap(t, resp)["status"])

		rec, _ = s.do(t, http.MethodGet, "/v1/leases/alice@on11.ru/status", "u3", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec, resp = s.do(t, http.MethodGet, "/v1/leases/alice@on11.ru/exists", "u3", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, dataMap(t, resp)["exists"])
	})

	t.Run("列表", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodGet, "/v1/leases", "u2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		own := dataMap(t, resp)["own"].([]interface{})
		assert.Len(t, own, 1)
	})

	t.Run("认领有效租约失败", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodPost, "/v1/leases/select", "u3", map[string]string{"email": "alice@on11.ru"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("他人删除无效果", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodDelete, "/v1/leases/alice@on11.ru", "u3", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		_, resp := s.do(t, http.MethodGet, "/v1/leases/alice@on11.ru/exists", "u3", nil)
		assert.Equal(t, true, dataMap(t, resp)["exists"])
	})

	t.Run("持有者删除", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodDelete, "/v1/leases/alice@on11.ru", "u2", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		_, resp := s.do(t, http.MethodGet, "/v1/leases/alice@on11.ru/exists", "u3", nil)
		assert.Equal(t, false, dataMap(t, resp)["exists"])
	})
}

func TestInboxRoutes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec, _ := s.do(t, http.MethodPost, "/v1/leases/custom", "owner", map[string]string{"localPart": "inbox"})
	require.Equal(t, http.StatusCreated, rec.Code)

	msg := &domain.Message{From: "a@example.com", To: "inbox@on11.ru", Subject: "hi", Text: "body"}
	require.NoError(t, s.messages.Ingest(ctx, msg))
	require.NoError(t, s.messages.Ingest(ctx, &domain.Message{From: "b@example.com", To: "free@on11.ru", Subject: "open"}))

	t.Run("持有者读取收件箱", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodGet, "/v1/inbox/inbox@on11.ru?limit=500", "owner", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := dataMap(t, resp)
		assert.Equal(t, float64(1), data["total"])
		assert.Equal(t, float64(100), data["limit"])
		assert.Len(t, data["items"], 1)
	})

	t.Run("他人和匿名访问被拒绝", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodGet, "/v1/inbox/inbox@on11.ru", "", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec, _ = s.do(t, http.MethodGet, "/v1/inbox/inbox@on11.ru/count", "intruder", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("实时推送沿用收件箱权限", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodGet, "/v1/inbox/inbox@on11.ru/ws", "intruder", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		// 持有者通过权限检查，但普通请求无法升级
		rec, _ = s.do(t, http.MethodGet, "/v1/inbox/inbox@on11.ru/ws", "owner", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("未出租地址公开", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodGet, "/v1/inbox/free@on11.ru/count", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), dataMap(t, resp)["count"])
	})

	t.Run("单封邮件", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodGet, "/v1/messages/"+msg.ID, "owner", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hi", dataMap(t, resp)["subject"])

		rec, _ = s.do(t, http.MethodGet, "/v1/messages/"+msg.ID, "intruder", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec, _ = s.do(t, http.MethodGet, "/v1/messages/unknown", "owner", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("清空收件箱", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodDelete, "/v1/inbox/inbox@on11.ru", "owner", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), dataMap(t, resp)["deleted"])
	})

	t.Run("删除单封邮件", func(t *testing.T) {
		second := &domain.Message{From: "c@example.com", To: "inbox@on11.ru", Subject: "otp"}
		require.NoError(t, s.messages.Ingest(ctx, second))

		// 他人看不到也删不掉
		rec, _ := s.do(t, http.MethodDelete, "/v1/messages/"+second.ID, "intruder", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		_, err := s.messages.Get(ctx, second.ID)
		require.NoError(t, err)

		rec, resp := s.do(t, http.MethodDelete, "/v1/messages/"+second.ID, "owner", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, dataMap(t, resp)["deleted"])

		rec, _ = s.do(t, http.MethodGet, "/v1/messages/"+second.ID, "owner", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec, _ = s.do(t, http.MethodDelete, "/v1/messages/"+second.ID, "owner", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDomainsRoute(t *testing.T) {
	s := newTestServer(t)

	rec, resp := s.do(t, http.MethodGet, "/v1/domains", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	assert.Equal(t, []interface{}{"on11.ru"}, data["domains"])
	assert.Equal(t, "on11.ru", data["default"])
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	t.Run("非管理员拒绝", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodPut, "/v1/admin/users/42/role", "user", map[string]string{"role": "vip"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	_, err := s.roles.SetRole(ctx, "root", "admin")
	require.NoError(t, err)

	t.Run("设置角色", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodPut, "/v1/admin/users/42/role", "root", map[string]string{"role": "VIP"})
		require.Equal(t, http.StatusOK, rec.Code)
		data := dataMap(t, resp)
		assert.Equal(t, "vip", data["role"])
		assert.Equal(t, float64(10), data["policy"].(map[string]interface{})["maxLeases"])

		rec, resp = s.do(t, http.MethodGet, "/v1/admin/users/42/role", "root", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "vip", dataMap(t, resp)["role"])
	})

	t.Run("无效角色", func(t *testing.T) {
		rec, resp := s.do(t, http.MethodPut, "/v1/admin/users/42/role", "root", map[string]string{"role": "owner"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, GetErrorMessage(service.ErrInvalidRole), resp.Msg)
	})

	t.Run("未知用户默认regular", func(t *testing.T) {
		_, resp := s.do(t, http.MethodGet, "/v1/admin/users/nobody/role", "root", nil)
		assert.Equal(t, "regular", dataMap(t, resp)["role"])
	})

	t.Run("手动清理", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodPost, "/v1/admin/sweep", "root", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestTelegramWebhook(t *testing.T) {
	s := newTestServer(t)

	post := func(secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/telegram", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set(middleware.TelegramSecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	update := `{"update_id":1,"message":{"message_id":7,"chat":{"id":1001,"type":"private"},"text":"/create"}}`

	t.Run("缺少密钥", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, post("", update).Code)
	})

	t.Run("命令回复写在响应体", func(t *testing.T) {
		rec := post("hook-secret", update)
		require.Equal(t, http.StatusOK, rec.Code)

		var reply map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
		assert.Equal(t, "sendMessage", reply["method"])
		assert.Equal(t, "1001", reply["chat_id"])
		assert.Contains(t, reply["text"], "@on11.ru")
	})

	t.Run("无法解析的更新也返回200", func(t *testing.T) {
		rec := post("hook-secret", "{not json")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}
