package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
)

// SMTPSettings 一次投递使用的 SMTP 设置
type SMTPSettings struct {
	Enabled    bool
	Host       string
	Port       int
	Username   string
	Password   string
	Sender     string
	Recipients []string
	Cc         []string
	Bcc        []string
	UseSSL     bool
	UseTLS     bool
	Timeout    time.Duration
}

// Email 待发送的纯文本邮件
type Email struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	Headers map[string]string
}

// Recipients 返回信封收件人（To、Cc、Bcc）
func (e Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	return append(out, e.Bcc...)
}

// Mailer 邮件发送接口
type Mailer interface {
	SendMail(ctx context.Context, settings SMTPSettings, email Email) error
}

// PartialDeliveryError 部分收件人被服务器拒绝，其余已投递
type PartialDeliveryError struct {
	Refused map[string]string
}

func (e *PartialDeliveryError) Error() string {
	addrs := make([]string, 0, len(e.Refused))
	for addr := range e.Refused {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		parts = append(parts, addr+": "+e.Refused[addr])
	}
	return "recipients refused: " + strings.Join(parts, "; ")
}

// SMTPMailer 基于 go-mail 的发送器，支持隐式 TLS 与 STARTTLS
type SMTPMailer struct {
	now func() time.Time
}

// NewSMTPMailer 创建 SMTP 发送器
func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{now: time.Now}
}

// SendMail 投递邮件；全部收件人被拒绝时返回错误，部分被拒绝时返回 *PartialDeliveryError
func (m *SMTPMailer) SendMail(ctx context.Context, st SMTPSettings, email Email) error {
	if len(email.Recipients()) == 0 {
		return errors.New("no recipients")
	}
	msg, err := m.buildMessage(email)
	if err != nil {
		return err
	}
	client, err := newMailClient(st)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	timeout := st.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(st.Host, strconv.Itoa(st.Port))
	conn, err := client.DialToSMTPClientWithContext(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = client.CloseWithSMTPClient(conn) }()

	from, err := msg.GetSender(false)
	if err != nil {
		return err
	}
	recipients, err := msg.GetRecipients()
	if err != nil {
		return err
	}
	if err := conn.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	// go-mail 的 Send 在任一收件人被拒时放弃整封邮件，这里逐个 RCPT 以保留部分投递
	refused := make(map[string]string)
	for _, rcpt := range recipients {
		if err := conn.Rcpt(rcpt); err != nil {
			refused[rcpt] = err.Error()
		}
	}
	if len(refused) == len(recipients) {
		_ = conn.Reset()
		return fmt.Errorf("all %s", (&PartialDeliveryError{Refused: refused}).Error())
	}

	w, err := conn.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	if len(refused) > 0 {
		return &PartialDeliveryError{Refused: refused}
	}
	return nil
}

func newMailClient(st SMTPSettings) (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(st.Port)}
	switch {
	case st.UseSSL:
		opts = append(opts, mail.WithSSL())
	case st.UseTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if st.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
			mail.WithUsername(st.Username),
			mail.WithPassword(st.Password),
		)
	}
	return mail.NewClient(st.Host, opts...)
}

// buildMessage 组装纯文本邮件，地址按 RFC 5322 校验，Bcc 不写入头部
func (m *SMTPMailer) buildMessage(email Email) (*mail.Msg, error) {
	msg := mail.NewMsg(mail.WithNoDefaultUserAgent())
	if err := msg.From(email.From); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if len(email.To) > 0 {
		if err := msg.To(email.To...); err != nil {
			return nil, fmt.Errorf("invalid recipient: %w", err)
		}
	}
	if len(email.Cc) > 0 {
		if err := msg.Cc(email.Cc...); err != nil {
			return nil, fmt.Errorf("invalid cc recipient: %w", err)
		}
	}
	if len(email.Bcc) > 0 {
		if err := msg.Bcc(email.Bcc...); err != nil {
			return nil, fmt.Errorf("invalid bcc recipient: %w", err)
		}
	}
	msg.Subject(headerValue(email.Subject))
	msg.SetDateWithValue(m.now())
	msg.SetMessageIDWithValue(uuid.NewString() + "@tacticaldesk")

	keys := make([]string, 0, len(email.Headers))
	for key := range email.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if value := headerValue(email.Headers[key]); value != "" {
			msg.SetGenHeader(mail.Header(key), value)
		}
	}
	msg.SetBodyString(mail.TypeTextPlain, email.Body)
	return msg, nil
}

// headerValue 折叠空白，头部值中不会出现 CR/LF
func headerValue(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
