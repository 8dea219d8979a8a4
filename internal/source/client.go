package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"github.com/hitoshi/blogdigest/internal/model"
)

const defaultUserAgent = "BlogDigest/1.0 (+https://onesearch.blog)"

// HTTPDoer はHTTPリクエストを実行するインターフェース。
// 本番ではsafeurlのクライアント、テストではhttptestのクライアントを渡す。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	// RatePerSecond は全ソース共通の毎秒リクエスト数。0以下は無制限。
	RatePerSecond float64
	// MaxRetries は一時的な失敗（通信エラー、429、5xx）の再試行回数。
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxBodySize int64
	UserAgent   string
}

// StatusError は2xx以外のHTTPステータスを表す。
type StatusError struct {
	URL        string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Temporary は再試行で回復し得るステータス（429/5xx）かどうかを返す。
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// permanentError は再試行しても結果が変わらない失敗を表す。
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Client はソース取得用のHTTPクライアント。
// レート制限、再試行、レスポンスサイズ制限を共通で適用する。
type Client struct {
	doer        HTTPDoer
	limiter     *rate.Limiter
	executor    failsafe.Executor[[]byte]
	maxBodySize int64
	userAgent   string
}

// NewClient はClientを生成する。
func NewClient(doer HTTPDoer, cfg ClientConfig) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 10
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	policy := retrypolicy.NewBuilder[[]byte]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ []byte, err error) bool {
			return shouldRetry(err)
		}).
		Build()

	return &Client{
		doer:        doer,
		limiter:     rate.NewLimiter(limit, 1),
		executor:    failsafe.With(policy),
		maxBodySize: cfg.MaxBodySize,
		userAgent:   cfg.UserAgent,
	}
}

// shouldRetry は通信エラーと一時的なステータスのみを再試行対象とする。
// コンテキストのキャンセルやタイムアウトは再試行しない。
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var permErr *permanentError
	if errors.As(err, &permErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// Get はURLを取得してボディを返す。
// 失敗時はmodel.ErrSourceUnavailableをラップしたエラーを返す。
func (c *Client) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	body, err := c.executor.WithContext(ctx).Get(func() ([]byte, error) {
		return c.fetch(ctx, rawURL, accept)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrSourceUnavailable, rawURL, err)
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("リクエストの作成に失敗: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 接続の再利用のためにボディを読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, &permanentError{fmt.Errorf("レスポンスが上限サイズ(%dバイト)を超えています", c.maxBodySize)}
	}
	return body, nil
}
