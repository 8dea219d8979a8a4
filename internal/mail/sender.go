package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/hitoshi/blogdigest/internal/model"
)

// Transport はメール送信のインターフェース。
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From はエンベロープ送信者（MAIL FROM）。表示名を含まないアドレスを指定する。
	From     string
	FromName string

	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// SMTPSender はSMTPでメールを送信するTransport。
// サーバーがSTARTTLSを提供する場合はTLSに切り替え、認証情報があればPLAIN認証する。
type SMTPSender struct {
	cfg        SMTPConfig
	auth       smtp.Auth
	fromHeader string
	executor   failsafe.Executor[any]
	tlsConfig  *tls.Config
	logger     *slog.Logger
	now        func() time.Time
}

var _ Transport = (*SMTPSender)(nil)

// NewSMTPSender はSMTPSenderの新しいインスタンスを生成する。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	from := (&mail.Address{Name: cfg.FromName, Address: cfg.From}).String()

	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return isTemporarySMTPError(err)
		}).
		Build()

	return &SMTPSender{
		cfg:        cfg,
		auth:       auth,
		fromHeader: from,
		executor:   failsafe.With[any](policy),
		tlsConfig:  &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// WithLogger はロガーを差し替える。
func (s *SMTPSender) WithLogger(logger *slog.Logger) *SMTPSender {
	s.logger = logger
	return s
}

// Send はmsgを送信する。一時的な失敗は設定回数まで再試行し、
// 最終的な失敗はmodel.ErrDeliveryFailureでラップして返す。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("%w: 宛先が不正です: %q: %w", model.ErrDeliveryFailure, msg.To, err)
	}
	raw, err := BuildMessage(s.fromHeader, msg, s.now())
	if err != nil {
		return fmt.Errorf("%w: メッセージの組み立てに失敗しました: %w", model.ErrDeliveryFailure, err)
	}

	_, err = s.executor.WithContext(ctx).Get(func() (any, error) {
		return nil, s.deliver(ctx, msg.To, raw)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrDeliveryFailure, msg.To, err)
	}
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, raw []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	// DATA終端に250が返った時点でサーバーは受理している。QUITの失敗で再送してはならない。
	if err := c.Quit(); err != nil {
		s.logger.Debug("QUITに失敗しましたが送信は完了しています",
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// isTemporarySMTPError は再試行すべきエラーかを判定する。
// 5xx応答（宛先不明・認証失敗など）とコンテキストの終了は再試行しない。
func isTemporarySMTPError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code < 500
	}
	return true
}

// LogTransport はSMTPが未設定の場合に使う送信しないTransport。
// 送信内容をログに出力するだけで常に成功する。
type LogTransport struct {
	logger *slog.Logger
}

var _ Transport = (*LogTransport)(nil)

// NewLogTransport はLogTransportの新しいインスタンスを生成する。
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Send はメールを送信せずにログに記録する。
func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.logger.Info("SMTPが未設定のためメールをログに出力します",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("html_bytes", len(msg.HTMLBody)),
	)
	return nil
}
