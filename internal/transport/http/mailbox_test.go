package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/chain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/config"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/monitoring"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/provider"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/service"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage/memory"
)

// promauto 指标挂在全局注册表上，整个测试包共用一份
var testMetrics = monitoring.NewMetrics()

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChain struct {
	active bool
	err    error
}

func (s *stubChain) GetMailbox(ctx context.Context, mailboxID string) (*chain.OnChainMailbox, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &chain.OnChainMailbox{Duration: 3600, Active: s.active}, nil
}

func (s *stubChain) IsMailboxActive(ctx context.Context, mailboxID string) (bool, error) {
	return s.active, s.err
}

type stubFetcher struct {
	messages []provider.Message
	err      error
}

func (s *stubFetcher) ListMessages(ctx context.Context, email, password string) ([]provider.Message, error) {
	return s.messages, s.err
}

func newTestRouter(t *testing.T, store *memory.Store, fetcher service.MessageFetcher) *gin.Engine {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	return NewRouter(RouterDependencies{
		Config:         cfg,
		MailboxService: service.NewMailboxService(store, store, &stubChain{active: true}, log),
		MessageService: service.NewMessageService(store, store, fetcher, log),
		Metrics:        testMetrics,
		Logger:         log,
	})
}

func seedMailbox(t *testing.T, store *memory.Store, mailboxID string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateMailbox(&domain.Mailbox{
		MailboxID:        mailboxID,
		Email:            mailboxID + "@mail.tm",
		ProviderPassword: "secret",
		Buyer:            "0xbuyer",
		CreatedAt:        time.Now().UTC().Add(-time.Hour),
		ExpiresAt:        expiresAt,
		DurationHours:    24,
		PaymentMethod:    "MON",
		Active:           true,
	}))
}

func doRequest(router *gin.Engine, method, path string) (*httptest.ResponseRecorder, Response) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)

	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestMailboxHandler_GetMailbox(t *testing.T) {
	store := memory.NewStore()
	router := newTestRouter(t, store, &stubFetcher{})
	seedMailbox(t, store, "mb-1", time.Now().UTC().Add(time.Hour))

	w, resp := doRequest(router, http.MethodGet, "/api/mailbox/mb-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "mb-1", data["mailboxId"])
	assert.Equal(t, "mb-1@mail.tm", data["email"])
	// 凭据绝不出现在响应里
	assert.NotContains(t, w.Body.String(), "secret")

	t.Run("不存在的邮箱返回 404", func(t *testing.T) {
		w, resp := doRequest(router, http.MethodGet, "/api/mailbox/mb-missing")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.False(t, resp.Success)
		assert.Equal(t, "mailbox not found", resp.Error)
	})
}

func TestMailboxHandler_ListMessages(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()
	fetcher := &stubFetcher{messages: []provider.Message{
		{ID: "pm-1", Subject: "hello", CreatedAt: now},
	}}
	router := newTestRouter(t, store, fetcher)
	seedMailbox(t, store, "mb-1", now.Add(time.Hour))

	t.Run("默认只读本地快照", func(t *testing.T) {
		w, resp := doRequest(router, http.MethodGet, "/api/mailbox/mb-1/messages")
		assert.Equal(t, http.StatusOK, w.Code)
		require.True(t, resp.Success)

		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(0), data["count"])
	})

	t.Run("sync=true 时先同步再读", func(t *testing.T) {
		w, resp := doRequest(router, http.MethodGet, "/api/mailbox/mb-1/messages?sync=true")
		assert.Equal(t, http.StatusOK, w.Code)
		require.True(t, resp.Success)

		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(1), data["count"])
	})

	t.Run("同步后再次默认读取返回已落库快照", func(t *testing.T) {
		fetcher.err = errors.New("provider down")

		w, resp := doRequest(router, http.MethodGet, "/api/mailbox/mb-1/messages")
		assert.Equal(t, http.StatusOK, w.Code)
		require.True(t, resp.Success)

		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(1), data["count"])
	})
}

func TestMailboxHandler_SyncMessages(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()
	router := newTestRouter(t, store, &stubFetcher{messages: []provider.Message{
		{ID: "pm-1", CreatedAt: now},
		{ID: "pm-2", CreatedAt: now},
	}})
	seedMailbox(t, store, "mb-1", now.Add(time.Hour))

	w, resp := doRequest(router, http.MethodPost, "/api/mailbox/mb-1/sync")
	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["synced"])

	t.Run("不存在的邮箱返回 404", func(t *testing.T) {
		w, _ := doRequest(router, http.MethodPost, "/api/mailbox/mb-missing/sync")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestMailboxHandler_GetStatus(t *testing.T) {
	store := memory.NewStore()
	router := newTestRouter(t, store, &stubFetcher{})
	seedMailbox(t, store, "mb-1", time.Now().UTC().Add(time.Hour))

	w, resp := doRequest(router, http.MethodGet, "/api/mailbox/mb-1/status")
	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["active"])
	assert.Equal(t, false, data["isExpired"])
	assert.Equal(t, true, data["onChainActive"])
	assert.Greater(t, data["remainingTime"], float64(0))
}

func TestMailboxHandler_ListByBuyer(t *testing.T) {
	store := memory.NewStore()
	router := newTestRouter(t, store, &stubFetcher{})
	seedMailbox(t, store, "mb-1", time.Now().UTC().Add(time.Hour))
	seedMailbox(t, store, "mb-2", time.Now().UTC().Add(2*time.Hour))

	w, resp := doRequest(router, http.MethodGet, "/api/mailbox/buyer/0xBUYER")
	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])
}

func TestRouter_ServiceEndpoints(t *testing.T) {
	store := memory.NewStore()
	router := newTestRouter(t, store, &stubFetcher{})

	t.Run("服务索引", func(t *testing.T) {
		w, resp := doRequest(router, http.MethodGet, "/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)
	})

	t.Run("健康检查", func(t *testing.T) {
		w, _ := doRequest(router, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Prometheus 指标", func(t *testing.T) {
		w, _ := doRequest(router, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("未匹配路由返回统一 404 信封", func(t *testing.T) {
		w, resp := doRequest(router, http.MethodGet, "/no/such/route")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.False(t, resp.Success)
		assert.Equal(t, "route not found", resp.Error)
	})
}
