package provider

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/monitoring"
)

var (
	// ErrNoDomains 服务商没有可用域名
	ErrNoDomains = errors.New("provider has no available domains")
	// ErrAccountCreation 服务商账号创建失败
	ErrAccountCreation = errors.New("provider account creation failed")
	// ErrLoginFailed 服务商登录失败
	ErrLoginFailed = errors.New("provider login failed")
	// ErrFetchFailed 服务商数据拉取失败
	ErrFetchFailed = errors.New("provider fetch failed")
)

// Domain 服务商可用域名
type Domain struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
}

// Account 服务商账号凭据
type Account struct {
	Email    string
	Password string
}

// Message 服务商侧的邮件表示
type Message struct {
	ID             string    `json:"id"`
	From           Address   `json:"from"`
	To             []Address `json:"to"`
	Subject        string    `json:"subject"`
	Intro          string    `json:"intro"`
	HasAttachments bool      `json:"hasAttachments"`
	Size           int64     `json:"size"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Address 邮件地址
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Client 封装与上游临时邮箱服务商（mail.tm 风格 API）的全部交互。
//
// 每次拉取邮件都重新登录换取 token，不做跨调用的 token 缓存，
// 以换取实现上的简单（可接受的取舍）。客户端自带 QPS 限速，
// 避免触发服务商侧限流。
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewClient 创建服务商客户端
func NewClient(baseURL string, timeout time.Duration, rps float64, log *zap.Logger) *Client {
	if rps <= 0 {
		rps = 4
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}
}

// SetMetrics 注入监控指标（可选）
func (c *Client) SetMetrics(m *monitoring.Metrics) {
	c.metrics = m
}

func (c *Client) recordCall(operation string) {
	if c.metrics != nil {
		c.metrics.RecordProviderCall(operation)
	}
}

func (c *Client) recordFailure(operation string) {
	if c.metrics != nil {
		c.metrics.RecordProviderFailure(operation)
	}
}

// ListDomains 获取服务商当前可用的域名列表。
func (c *Client) ListDomains(ctx context.Context) ([]Domain, error) {
	c.recordCall("list_domains")
	var out struct {
		Member []Domain `json:"hydra:member"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/domains", nil, "", &out); err != nil {
		c.recordFailure("list_domains")
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return out.Member, nil
}

// CreateAccount 在服务商侧注册一个新的临时邮箱账号。
//
// 取第一个可用域名，本地部分由时间戳加随机后缀合成保证唯一，
// 密码随机生成。返回的凭据由调用方负责持久化。
func (c *Client) CreateAccount(ctx context.Context) (*Account, error) {
	domains, err := c.ListDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountCreation, err)
	}
	if len(domains) == 0 {
		return nil, ErrNoDomains
	}

	email := fmt.Sprintf("temp_%d_%s@%s",
		time.Now().UnixMilli(), randomString(7), domains[0].Domain)
	password := randomString(16)

	c.recordCall("create_account")
	body := map[string]string{"address": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/accounts", body, "", nil); err != nil {
		c.recordFailure("create_account")
		c.log.Error("provider account creation failed",
			zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAccountCreation, err)
	}

	c.log.Info("provider account created", zap.String("email", email))
	return &Account{Email: email, Password: password}, nil
}

// Login 登录并换取访问 token。
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	c.recordCall("login")
	body := map[string]string{"address": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/token", body, "", &out); err != nil {
		c.recordFailure("login")
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	return out.Token, nil
}

// ListMessages 拉取账号收件箱内的全部邮件（每次调用重新登录）。
func (c *Client) ListMessages(ctx context.Context, email, password string) ([]Message, error) {
	token, err := c.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.recordCall("list_messages")
	var out struct {
		Member []Message `json:"hydra:member"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/messages", nil, token, &out); err != nil {
		c.recordFailure("list_messages")
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return out.Member, nil
}

// doJSON 发送一次 JSON 请求并解码响应。
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, token string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

const randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomString 生成指定长度的随机字符串。
//
// 账号凭据要求并发安全且不可预测，随机源用 crypto/rand。
func randomString(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	for i := range buf {
		buf[i] = randomAlphabet[int(buf[i])%len(randomAlphabet)]
	}
	return string(buf)
}
