// Package ntfy is a small client for publishing plain-text messages to an
// ntfy server (https://ntfy.sh).
package ntfy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/text/unicode/norm"
)

// Config 客户端配置；BaseURL 与 Token 可被单条消息覆盖
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://ntfy.sh",
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		UserAgent:  "TacticalDesk-Ntfy-Client/1.0",
	}
}

// Message 一条待发布的通知
type Message struct {
	BaseURL string
	Topic   string
	Token   string
	Title   string
	Body    string
	// Headers 附加请求头，值会被清理为 ASCII
	Headers map[string]string
}

// Response 服务端响应
type Response struct {
	URL        string
	StatusCode int
	Body       string
}

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ntfy API error [%d]: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Publisher 定义发布接口，便于替换与测试
type Publisher interface {
	Publish(ctx context.Context, msg *Message) (*Response, error)
}

// Client ntfy HTTP 客户端
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient 创建客户端，HTTP 传输层带 OpenTelemetry 追踪
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig().UserAgent
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

var (
	ErrMissingBaseURL = errors.New("ntfy base URL is not configured")
	ErrMissingTopic   = errors.New("ntfy topic is not configured")
)

// Endpoint 拼接 base URL 与转义后的 topic
func Endpoint(baseURL, topic string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", ErrMissingBaseURL
	}
	escaped := EscapeTopic(topic)
	if escaped == "" {
		return "", ErrMissingTopic
	}
	return base + "/" + escaped, nil
}

// EscapeTopic 百分号编码 topic，保留 "/" 与 RFC 3986 非保留字符
func EscapeTopic(topic string) string {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	var b strings.Builder
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}

var dashReplacer = strings.NewReplacer("\r", " ", "\n", " ", "—", "-", "–", "-", "―", "-", "−", "-")

// SanitizeHeader 将任意文本转换为 ASCII 请求头值：替换换行与各类破折号，
// NFKD 分解后丢弃非 ASCII 字符并折叠空白
func SanitizeHeader(value string) string {
	decomposed := norm.NFKD.String(dashReplacer.Replace(value))
	ascii := make([]byte, 0, len(decomposed))
	for i := 0; i < len(decomposed); i++ {
		if decomposed[i] < 0x80 {
			ascii = append(ascii, decomposed[i])
		}
	}
	return strings.Join(strings.Fields(string(ascii)), " ")
}

// Publish 发布消息，网络错误、429 与 5xx 会按配置重试
func (c *Client) Publish(ctx context.Context, msg *Message) (*Response, error) {
	if msg == nil {
		return nil, errors.New("message is required")
	}
	baseURL := msg.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = c.config.BaseURL
	}
	endpoint, err := Endpoint(baseURL, msg.Topic)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"max":     c.config.MaxRetries,
				"topic":   msg.Topic,
			}).Warn("ntfy publish retry")
		}

		resp, err := c.doPublish(ctx, endpoint, msg)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !shouldRetry(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) doPublish(ctx context.Context, endpoint string, msg *Message) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("User-Agent", c.config.UserAgent)

	token := msg.Token
	if strings.TrimSpace(token) == "" {
		token = c.config.Token
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if title := SanitizeHeader(msg.Title); title != "" {
		req.Header.Set("Title", title)
	}
	for key, value := range msg.Headers {
		if clean := SanitizeHeader(value); clean != "" {
			req.Header.Set(key, clean)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debugf("ntfy API Response: %d %s", resp.StatusCode, string(body))

	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return &Response{URL: endpoint, StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// shouldRetry 客户端错误（除 429 外）不重试
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
