package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hitoshi/blogdigest/internal/config"
	"github.com/hitoshi/blogdigest/internal/database"
	"github.com/hitoshi/blogdigest/internal/handler"
	"github.com/hitoshi/blogdigest/internal/logger"
	"github.com/hitoshi/blogdigest/internal/mail"
	"github.com/hitoshi/blogdigest/internal/metrics"
	"github.com/hitoshi/blogdigest/internal/repository"
	"github.com/hitoshi/blogdigest/internal/security"
	"github.com/hitoshi/blogdigest/internal/source"
	"github.com/hitoshi/blogdigest/internal/worker/ingest"
)

// Backend はコマンドが利用する永続化層。
type Backend struct {
	Store  repository.Store
	Pinger handler.Pinger
	Close  func() error
}

// BackendOpener は設定から永続化層を開く関数。
type BackendOpener func(ctx context.Context, cfg *config.Config) (*Backend, error)

// Options はCLIの差し替え可能な依存関係。ゼロ値の項目は本番用の実装を使う。
type Options struct {
	// Stdout はコマンドの出力先。
	Stdout io.Writer
	// LogOutput は構造化ログの出力先。
	LogOutput   io.Writer
	LoadConfig  func() (*config.Config, error)
	OpenBackend BackendOpener
	Transport   mail.Transport
	Adapters    ingest.AdapterResolver
	Now         func() time.Time
}

type commandContext struct {
	opts     Options
	cfg      *config.Config
	logger   *slog.Logger
	backend  *Backend
	registry *prometheus.Registry
	metrics  *metrics.Collector
}

func newCommandContext(opts Options) *commandContext {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = loadConfig
	}
	if opts.OpenBackend == nil {
		opts.OpenBackend = openPostgresBackend
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &commandContext{opts: opts}
}

// loadConfig は.envを読み込んだ上で環境変数から設定を読み込む。
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load()
}

// init は設定とロガー、メトリクスを初期化する。
func (c *commandContext) init() error {
	if c.cfg != nil {
		return nil
	}
	cfg, err := c.opts.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c.cfg = cfg
	c.logger = logger.SetupDefault(c.opts.LogOutput, logger.ParseLevel(cfg.LogLevel), logger.ParseFormat(cfg.LogFormat))

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)
	return nil
}

// ensureBackend は永続化層を初回呼び出し時に開く。
func (c *commandContext) ensureBackend(ctx context.Context) (*Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	b, err := c.opts.OpenBackend(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	c.backend = b
	return b, nil
}

func (c *commandContext) close() error {
	if c.backend == nil || c.backend.Close == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend = nil
	return err
}

func (c *commandContext) stdout() io.Writer {
	return c.opts.Stdout
}

// openPostgresBackend はPostgreSQLに接続し、疎通を確認する。
func openPostgresBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	store := repository.NewPostgresStore(db)
	return &Backend{Store: store, Pinger: store, Close: db.Close}, nil
}

// adapters はソース定義ファイルから取得アダプタのレジストリを構築する。
// ファイルが存在しない場合は空のレジストリを返し、全パブリッシャーが取得対象外になる。
func (c *commandContext) adapters() (ingest.AdapterResolver, error) {
	if c.opts.Adapters != nil {
		return c.opts.Adapters, nil
	}

	scfg, err := c.sourceConfig()
	if err != nil {
		return nil, err
	}

	guard := security.NewSSRFGuard()
	client := source.NewClient(guard.NewSafeClient(c.cfg.FetchTimeout), source.ClientConfig{
		RatePerSecond: c.cfg.FetchRatePerSecond,
		MaxRetries:    c.cfg.FetchMaxRetries,
		MaxBodySize:   c.cfg.FetchMaxSize,
	})
	reg, err := source.BuildRegistry(scfg, client, guard)
	if err != nil {
		return nil, err
	}
	c.logger.Info("ソース定義を読み込みました",
		slog.String("path", c.cfg.SourcesFile),
		slog.Int("sources", len(reg.Names())),
	)
	return reg, nil
}

// sourceConfig はソース定義ファイルを読み込む。存在しない場合は空の定義を返す。
func (c *commandContext) sourceConfig() (*source.Config, error) {
	scfg, err := source.LoadConfig(c.cfg.SourcesFile)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("ソース定義ファイルが見つかりません",
			slog.String("path", c.cfg.SourcesFile),
		)
		return &source.Config{}, nil
	}
	return scfg, err
}

// transport はSMTPが設定されていればSMTP送信、未設定ならログ出力のTransportを返す。
func (c *commandContext) transport() mail.Transport {
	if c.opts.Transport != nil {
		return c.opts.Transport
	}
	if !c.cfg.MailEnabled() {
		return mail.NewLogTransport(c.logger)
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:       c.cfg.SMTPHost,
		Port:       c.cfg.SMTPPort,
		Username:   c.cfg.SMTPUsername,
		Password:   c.cfg.SMTPPassword,
		From:       c.cfg.MailFrom,
		FromName:   c.cfg.MailFromName,
		MaxRetries: c.cfg.MailMaxRetries,
	}).WithLogger(c.logger)
}

// renderer はロゴ・ヘッダー画像を読み込んでダイジェストのRendererを生成する。
func (c *commandContext) renderer() (*mail.Renderer, error) {
	logo, err := mail.LoadInlineImage(mail.ContentIDLogo, c.cfg.MailLogoPath)
	if err != nil {
		return nil, err
	}
	header, err := mail.LoadInlineImage(mail.ContentIDHeader, c.cfg.MailHeaderPath)
	if err != nil {
		return nil, err
	}
	return mail.NewRenderer(mail.RendererConfig{
		SubjectPrefix: c.cfg.MailSubjectPrefix,
		Logo:          logo,
		Header:        header,
	}), nil
}

// shouldSkipConfig はコマンドまたは親コマンドが設定読み込みを不要としているかを返す。
func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
