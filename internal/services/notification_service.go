package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/config"
	"tacticaldesk/internal/metrics"
	"tacticaldesk/internal/models"
	"tacticaldesk/pkg/ntfy"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 集成模块标识
const (
	ModuleSlugNtfy = "ntfy"
	ModuleSlugSMTP = "smtp-email"
)

const messagePreviewLimit = 200

// Notification 一条自动化通知
type Notification struct {
	Message          string
	AutomationName   string
	EventType        string
	TicketIdentifier string
	// Topic 非空时覆盖模块配置的 topic
	Topic string
}

// Notifier 通知发送接口
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationService 负责 ntfy 推送与 SMTP 邮件投递
// 模块设置（IntegrationModule）优先于配置文件默认值，每次投递写入 ModuleCallLog
type NotificationService struct {
	db          *gorm.DB
	cfg         config.NotificationsConfig
	publisher   ntfy.Publisher
	mailer      Mailer
	ntfyBreaker *CircuitBreaker
	smtpBreaker *CircuitBreaker
	metrics     *metrics.Metrics
	logger      *logrus.Logger
	now         func() time.Time
}

var _ Notifier = (*NotificationService)(nil)

// NotificationOption 配置 NotificationService
type NotificationOption func(*NotificationService)

// WithPublisher 替换 ntfy 发布器
func WithPublisher(p ntfy.Publisher) NotificationOption {
	return func(s *NotificationService) { s.publisher = p }
}

// WithMailer 替换邮件发送器
func WithMailer(m Mailer) NotificationOption {
	return func(s *NotificationService) { s.mailer = m }
}

// WithNotificationMetrics 记录投递指标
func WithNotificationMetrics(m *metrics.Metrics) NotificationOption {
	return func(s *NotificationService) { s.metrics = m }
}

// NewNotificationService 创建通知服务
func NewNotificationService(db *gorm.DB, cfg config.NotificationsConfig, logger *logrus.Logger, opts ...NotificationOption) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	s := &NotificationService{
		db:          db,
		cfg:         cfg,
		ntfyBreaker: NewCircuitBreaker(ModuleSlugNtfy, cfg.CircuitBreaker),
		smtpBreaker: NewCircuitBreaker(ModuleSlugSMTP, cfg.CircuitBreaker),
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = ntfy.NewClient(&ntfy.Config{
			BaseURL:    cfg.Ntfy.BaseURL,
			Token:      cfg.Ntfy.Token,
			Timeout:    cfg.Ntfy.Timeout,
			MaxRetries: cfg.Ntfy.MaxRetries,
			RetryDelay: cfg.Ntfy.RetryDelay,
		}, logger)
	}
	if s.mailer == nil {
		s.mailer = NewSMTPMailer()
	}
	return s
}

// Breakers 返回各通道熔断器，供健康检查使用
func (s *NotificationService) Breakers() []*CircuitBreaker {
	return []*CircuitBreaker{s.ntfyBreaker, s.smtpBreaker}
}

// HandleNtfy send-ntfy-notification 动作处理器，渲染后的 topic 附加字段覆盖默认 topic
func (s *NotificationService) HandleNtfy(ctx context.Context, req automation.ActionRequest) error {
	return s.Send(ctx, Notification{
		Message:          req.Value,
		AutomationName:   req.AutomationName,
		EventType:        req.EventType,
		TicketIdentifier: req.TicketIdentifier,
		Topic:            req.Extras["topic"],
	})
}

type ntfySettings struct {
	Enabled bool
	BaseURL string
	Topic   string
	Token   string
}

func (s *NotificationService) ntfySettings(ctx context.Context) ntfySettings {
	st := ntfySettings{
		Enabled: s.cfg.Ntfy.Enabled,
		BaseURL: s.cfg.Ntfy.BaseURL,
		Topic:   s.cfg.Ntfy.Topic,
		Token:   s.cfg.Ntfy.Token,
	}
	module, settings := s.loadModule(ctx, ModuleSlugNtfy)
	if module == nil {
		return st
	}
	st.Enabled = module.Enabled
	if v := settingString(settings, "base_url"); v != "" {
		st.BaseURL = v
	}
	if v := settingString(settings, "topic"); v != "" {
		st.Topic = v
	}
	if v := settingString(settings, "token"); v != "" {
		st.Token = v
	}
	return st
}

// Send 通过 ntfy 发送通知；模块停用或缺少 base URL/topic 时跳过并返回 nil
func (s *NotificationService) Send(ctx context.Context, n Notification) error {
	st := s.ntfySettings(ctx)
	fields := logrus.Fields{
		"automation": n.AutomationName,
		"event":      n.EventType,
		"ticket":     n.TicketIdentifier,
	}
	if !st.Enabled {
		s.logger.WithFields(fields).Debug("ntfy module disabled, skipping notification")
		s.metrics.IncrementNotification(ModuleSlugNtfy, "skipped")
		return nil
	}
	topic := strings.TrimSpace(n.Topic)
	if topic == "" {
		topic = strings.TrimSpace(st.Topic)
	}
	endpoint, err := ntfy.Endpoint(st.BaseURL, topic)
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("ntfy not configured, skipping notification")
		s.metrics.IncrementNotification(ModuleSlugNtfy, "skipped")
		return nil
	}

	title := fmt.Sprintf("%s - %s", n.AutomationName, n.EventType)
	msg := &ntfy.Message{
		BaseURL: st.BaseURL,
		Topic:   topic,
		Token:   st.Token,
		Title:   title,
		Body:    n.Message,
		Headers: map[string]string{
			"X-TacticalDesk-Automation": n.AutomationName,
			"X-TacticalDesk-Ticket":     n.TicketIdentifier,
		},
	}

	var resp *ntfy.Response
	sendErr := s.ntfyBreaker.Execute(func() error {
		var err error
		resp, err = s.publisher.Publish(ctx, msg)
		return err
	})

	// 日志中的请求头不包含 Authorization
	logHeaders := map[string]string{
		"Content-Type": "text/plain; charset=utf-8",
		"Title":        ntfy.SanitizeHeader(title),
	}
	for key, value := range msg.Headers {
		logHeaders[key] = ntfy.SanitizeHeader(value)
	}
	call := &models.ModuleCallLog{
		ModuleSlug: ModuleSlugNtfy,
		Method:     "POST",
		URL:        endpoint,
		RequestPayload: encodePayload(map[string]any{
			"headers":         logHeaders,
			"topic":           topic,
			"message_preview": preview(n.Message, messagePreviewLimit),
		}),
	}
	if resp != nil {
		call.StatusCode = intPtr(resp.StatusCode)
		call.ResponsePayload = resp.Body
	}
	var apiErr *ntfy.APIError
	if errors.As(sendErr, &apiErr) {
		call.StatusCode = intPtr(apiErr.StatusCode)
		call.ResponsePayload = apiErr.Body
	}
	if sendErr != nil {
		call.Error = sendErr.Error()
	}
	s.recordCall(ctx, call)

	if sendErr != nil {
		s.metrics.IncrementNotification(ModuleSlugNtfy, "failed")
		s.logger.WithFields(fields).WithError(sendErr).Error("failed to deliver ntfy notification")
		return fmt.Errorf("ntfy delivery failed: %w", sendErr)
	}
	s.metrics.IncrementNotification(ModuleSlugNtfy, "success")
	s.logger.WithFields(fields).WithField("topic", topic).Info("ntfy notification delivered")
	return nil
}

func (s *NotificationService) smtpSettings(ctx context.Context) SMTPSettings {
	c := s.cfg.SMTP
	st := SMTPSettings{
		Enabled:    c.Enabled,
		Host:       c.Host,
		Port:       c.Port,
		Username:   c.Username,
		Password:   c.Password,
		Sender:     c.Sender,
		Recipients: append([]string(nil), c.Recipients...),
		UseSSL:     c.UseSSL,
		UseTLS:     c.UseTLS,
		Timeout:    c.Timeout,
	}
	module, settings := s.loadModule(ctx, ModuleSlugSMTP)
	if module != nil {
		st.Enabled = module.Enabled
		if v := settingString(settings, "smtp_host"); v != "" {
			st.Host = v
		}
		if v, ok := settingInt(settings, "smtp_port"); ok {
			st.Port = v
		}
		if v := settingString(settings, "smtp_username"); v != "" {
			st.Username = v
		}
		if v := settingString(settings, "smtp_password"); v != "" {
			st.Password = v
		}
		if v := settingString(settings, "smtp_sender"); v != "" {
			st.Sender = v
		}
		if v := ParseRecipients(settings["smtp_recipients"]); len(v) > 0 {
			st.Recipients = v
		}
		st.Cc = ParseRecipients(settings["smtp_cc"])
		st.Bcc = ParseRecipients(settings["smtp_bcc"])
		if v, ok := settingBool(settings, "smtp_use_ssl"); ok {
			st.UseSSL = v
		}
		if v, ok := settingBool(settings, "smtp_use_tls"); ok {
			st.UseTLS = v
		}
	}
	// 隐式 TLS 优先于 STARTTLS
	if st.UseSSL {
		st.UseTLS = false
	}
	if st.Port == 0 {
		st.Port = 587
	}
	return st
}

// HandleEmail send-smtp-email 动作处理器
// 主题取渲染后的 subject（或 topic）附加字段，收件人取 to_recipients/cc_recipients，否则使用模块设置
func (s *NotificationService) HandleEmail(ctx context.Context, req automation.ActionRequest) error {
	st := s.smtpSettings(ctx)
	fields := logrus.Fields{
		"automation": req.AutomationName,
		"event":      req.EventType,
		"ticket":     req.TicketIdentifier,
	}
	if !st.Enabled {
		s.logger.WithFields(fields).Debug("smtp module disabled, skipping email")
		s.metrics.IncrementNotification(ModuleSlugSMTP, "skipped")
		return nil
	}

	to := ParseRecipients(req.Extras["to_recipients"])
	if len(to) == 0 {
		to = st.Recipients
	}
	cc := ParseRecipients(req.Extras["cc_recipients"])
	if len(cc) == 0 {
		cc = st.Cc
	}
	if strings.TrimSpace(st.Host) == "" || strings.TrimSpace(st.Sender) == "" || len(to) == 0 {
		s.logger.WithFields(fields).Warn("smtp not configured, skipping email")
		s.metrics.IncrementNotification(ModuleSlugSMTP, "skipped")
		return nil
	}

	subject := strings.TrimSpace(req.Extras["subject"])
	if subject == "" {
		subject = strings.TrimSpace(req.Extras["topic"])
	}
	if subject == "" {
		subject = fmt.Sprintf("Automation %s triggered", req.AutomationName)
	}
	email := Email{
		From:    st.Sender,
		To:      to,
		Cc:      cc,
		Bcc:     st.Bcc,
		Subject: subject,
		Body:    req.Value,
		Headers: map[string]string{
			"X-TacticalDesk-Automation": req.AutomationName,
			"X-TacticalDesk-Event":      req.EventType,
			"X-TacticalDesk-Ticket":     req.TicketIdentifier,
		},
	}

	var mailErr error
	sendErr := s.smtpBreaker.Execute(func() error {
		mailErr = s.mailer.SendMail(ctx, st, email)
		var partial *PartialDeliveryError
		if errors.As(mailErr, &partial) {
			// 部分收件人被拒绝不计入熔断
			return nil
		}
		return mailErr
	})
	if sendErr == nil {
		sendErr = mailErr
	}

	call := &models.ModuleCallLog{
		ModuleSlug: ModuleSlugSMTP,
		Method:     "SEND",
		URL:        fmt.Sprintf("smtp://%s:%d", st.Host, st.Port),
		RequestPayload: encodePayload(map[string]any{
			"subject":   subject,
			"to":        to,
			"cc":        cc,
			"bcc_count": len(st.Bcc),
			"use_ssl":   st.UseSSL,
			"use_tls":   st.UseTLS,
		}),
	}
	var partial *PartialDeliveryError
	switch {
	case sendErr == nil:
		call.StatusCode = intPtr(250)
	case errors.As(sendErr, &partial):
		call.StatusCode = intPtr(400)
		call.Error = sendErr.Error()
	default:
		call.Error = sendErr.Error()
	}
	s.recordCall(ctx, call)

	if sendErr != nil {
		s.metrics.IncrementNotification(ModuleSlugSMTP, "failed")
		s.logger.WithFields(fields).WithError(sendErr).Error("failed to deliver email")
		return fmt.Errorf("smtp delivery failed: %w", sendErr)
	}
	s.metrics.IncrementNotification(ModuleSlugSMTP, "success")
	s.logger.WithFields(fields).WithField("recipients", len(to)+len(cc)+len(st.Bcc)).Info("email delivered")
	return nil
}

func (s *NotificationService) loadModule(ctx context.Context, slug string) (*models.IntegrationModule, map[string]any) {
	if s.db == nil {
		return nil, nil
	}
	var module models.IntegrationModule
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&module).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithError(err).WithField("module", slug).Warn("failed to load integration module")
		}
		return nil, nil
	}
	settings := map[string]any{}
	if strings.TrimSpace(module.Settings) != "" {
		if err := json.Unmarshal([]byte(module.Settings), &settings); err != nil {
			s.logger.WithError(err).WithField("module", slug).Warn("invalid integration module settings")
			settings = map[string]any{}
		}
	}
	return &module, settings
}

func (s *NotificationService) recordCall(ctx context.Context, call *models.ModuleCallLog) {
	if s.db == nil {
		return
	}
	call.CreatedAt = s.now().UTC()
	if err := s.db.WithContext(ctx).Create(call).Error; err != nil {
		s.logger.WithError(err).WithField("module", call.ModuleSlug).Warn("failed to record module call")
	}
}

// ParseRecipients 解析收件人，支持以 ";" 或 "," 分隔的字符串及字符串列表
// 不是合法 RFC 5322 地址的条目（含 CR/LF 的条目）被丢弃
func ParseRecipients(value any) []string {
	var parts []string
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		parts = strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == ',' })
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	default:
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); validRecipient(part) {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func validRecipient(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, "\r\n") {
		return false
	}
	_, err := mail.ParseAddress(addr)
	return err == nil
}

func settingString(settings map[string]any, key string) string {
	switch v := settings[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func settingInt(settings map[string]any, key string) (int, bool) {
	switch v := settings[key].(type) {
	case float64:
		return int(v), v > 0
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil && n > 0
	}
	return 0, false
}

func settingBool(settings map[string]any, key string) (bool, bool) {
	switch v := settings[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
	}
	return false, false
}

func encodePayload(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func preview(message string, limit int) string {
	runes := []rune(message)
	if len(runes) <= limit {
		return message
	}
	return string(runes[:limit])
}

func intPtr(v int) *int { return &v }
