package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/monitoring"
)

// promauto 指标挂在全局注册表上，整个测试包共用一份
var testMetrics = monitoring.NewMetrics()

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 5*time.Second, 100, zap.NewNop()), server
}

func TestClient_ListDomains(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/domains", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"hydra:member": []map[string]string{
				{"id": "d1", "domain": "mail.tm"},
				{"id": "d2", "domain": "example.org"},
			},
		})
	}))

	domains, err := client.ListDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "mail.tm", domains[0].Domain)
}

func TestClient_CreateAccount(t *testing.T) {
	var created struct {
		Address  string `json:"address"`
		Password string `json:"password"`
	}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/domains":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"hydra:member": []map[string]string{{"id": "d1", "domain": "mail.tm"}},
			})
		case "/accounts":
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusCreated)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	account, err := client.CreateAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, created.Address, account.Email)
	assert.Equal(t, created.Password, account.Password)
	assert.True(t, strings.HasSuffix(account.Email, "@mail.tm"))
	assert.True(t, strings.HasPrefix(account.Email, "temp_"))
	assert.Len(t, account.Password, 16)
}

func TestClient_CreateAccountConcurrent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/domains":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"hydra:member": []map[string]string{{"id": "d1", "domain": "mail.tm"}},
			})
		case "/accounts":
			w.WriteHeader(http.StatusCreated)
		}
	}))

	const workers = 8
	var wg sync.WaitGroup
	accounts := make([]*Account, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accounts[i], errs[i] = client.CreateAccount(context.Background())
		}(i)
	}
	wg.Wait()

	passwords := make(map[string]struct{}, workers)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, accounts[i].Password, 16)
		passwords[accounts[i].Password] = struct{}{}
	}
	assert.Len(t, passwords, workers)
}

func TestClient_CreateAccountNoDomains(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"hydra:member": []interface{}{}})
	}))

	_, err := client.CreateAccount(context.Background())
	assert.ErrorIs(t, err, ErrNoDomains)
}

func TestClient_ListMessages(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "temp@mail.tm", body["address"])
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "test-token"})
		case "/messages":
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"hydra:member": []map[string]interface{}{
					{
						"id":      "pm-1",
						"from":    map[string]string{"address": "alice@example.com", "name": "Alice"},
						"subject": "hello",
						"intro":   "hi there",
						"seen":    false,
						"size":    1024,
					},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	messages, err := client.ListMessages(context.Background(), "temp@mail.tm", "secret")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "pm-1", messages[0].ID)
	assert.Equal(t, "alice@example.com", messages[0].From.Address)
	assert.Equal(t, int64(1024), messages[0].Size)
}

func TestClient_LoginFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid credentials."}`))
	}))

	_, err := client.ListMessages(context.Background(), "temp@mail.tm", "wrong")
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))

	_, err := client.ListDomains(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_Metrics(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	client.SetMetrics(testMetrics)

	callsBefore := testutil.ToFloat64(testMetrics.ProviderCalls.WithLabelValues("list_domains"))
	failuresBefore := testutil.ToFloat64(testMetrics.ProviderFailures.WithLabelValues("list_domains"))

	_, err := client.ListDomains(context.Background())
	require.Error(t, err)

	assert.Equal(t, callsBefore+1, testutil.ToFloat64(testMetrics.ProviderCalls.WithLabelValues("list_domains")))
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(testMetrics.ProviderFailures.WithLabelValues("list_domains")))
}
