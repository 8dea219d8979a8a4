package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/blogdigest/internal/database"
	"github.com/hitoshi/blogdigest/internal/handler"
	"github.com/hitoshi/blogdigest/internal/post"
	"github.com/hitoshi/blogdigest/internal/publisher"
	"github.com/hitoshi/blogdigest/internal/subscription"
	"github.com/hitoshi/blogdigest/internal/worker"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx.logger.Info("running database migrations",
				slog.String("database_url", maskDatabaseURL(ctx.cfg.DatabaseURL)),
			)
			if err := database.RunMigrations(ctx.cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			ctx.logger.Info("database migrations completed successfully")
			return nil
		},
	}
}

// newStageCommands は各ステージを1回実行するコマンドを返す。
// 作業単位の失敗は出力に含めるだけで、終了コードには反映しない。
func newStageCommands(ctx *commandContext) []*cobra.Command {
	stageCmd := func(use, short string, pick func(p *pipeline) worker.Stage) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := ctx.buildPipeline(cmd.Context())
				if err != nil {
					return err
				}
				report, err := pick(p).RunOnce(cmd.Context())
				printReport(cmd.OutOrStdout(), report)
				return err
			},
		}
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run ingest, notify and deliver once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.buildPipeline(cmd.Context())
			if err != nil {
				return err
			}
			reports, err := worker.NewRunner(ctx.logger, p.stages()...).RunOnce(cmd.Context())
			for _, r := range reports {
				printReport(cmd.OutOrStdout(), r)
			}
			return err
		},
	}

	return []*cobra.Command{
		stageCmd("ingest", "Fetch new posts from registered sources", func(p *pipeline) worker.Stage { return p.ingest }),
		stageCmd("notify", "Create pending notifications for labelled posts", func(p *pipeline) worker.Stage { return p.notify }),
		stageCmd("deliver", "Send mature notifications as digests", func(p *pipeline) worker.Stage { return p.deliver }),
		run,
	}
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	var addr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the pipeline periodically and serve the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = ctx.cfg.WorkerInterval
			}
			if addr == "" {
				addr = ":" + ctx.cfg.OpsPort
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := ctx.buildPipeline(runCtx)
			if err != nil {
				return err
			}
			srv, err := ctx.newServer(runCtx, addr)
			if err != nil {
				return err
			}

			// サーバーが起動に失敗した場合はランナーも止める
			runCtx, cancel := context.WithCancel(runCtx)
			defer cancel()
			errCh := make(chan error, 1)
			go func() {
				errCh <- serveHTTP(runCtx, srv, ctx.logger)
				cancel()
			}()

			runner := worker.NewRunner(ctx.logger, p.stages()...)
			runner.Start(runCtx, interval)

			err = <-errCh
			ctx.logger.Info("worker stopped gracefully")
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Pipeline interval (default WORKER_INTERVAL)")
	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (default :OPS_PORT)")
	return cmd
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the subscription API, /health and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = ":" + ctx.cfg.OpsPort
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := ctx.newServer(runCtx, addr)
			if err != nil {
				return err
			}
			return serveHTTP(runCtx, srv, ctx.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :OPS_PORT)")
	return cmd
}

// newServer はAPIサーバーを組み立てる。
func (c *commandContext) newServer(ctx context.Context, addr string) (*http.Server, error) {
	b, err := c.ensureBackend(ctx)
	if err != nil {
		return nil, err
	}
	repos := b.Store.Repos()
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:              c.logger,
		DB:                  b.Pinger,
		Gatherer:            c.registry,
		PublisherService:    publisher.NewService(repos.Publishers),
		SubscriptionService: subscription.NewService(repos.Subscriptions, repos.Publishers),
	})
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, nil
}

// serveHTTP はサーバーを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("API server stopped gracefully")
	return nil
}

func newHealthcheckCommand() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:         "healthcheck",
		Short:       "Probe the /health endpoint of a running server",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				port := os.Getenv("OPS_PORT")
				if port == "" {
					port = "9090"
				}
				url = fmt.Sprintf("http://localhost:%s/health", port)
			}
			return runHealthcheck(cmd.Context(), url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Health endpoint URL (default http://localhost:$OPS_PORT/health)")
	return cmd
}

// runHealthcheck は/healthにHTTPリクエストを送り、200以外ならエラーを返す。
// distroless環境でのコンテナヘルスチェック用。
func runHealthcheck(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the topic model from labelled posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				modelPath = ctx.cfg.ModelPath
			}
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			svc := post.NewService(b.Store.Repos().Posts, nil, ctx.logger).WithClock(ctx.opts.Now)
			res, err := svc.TrainClassifier(cmd.Context(), modelPath)
			if err != nil {
				return err
			}
			if !res.Trained {
				fmt.Fprintf(cmd.OutOrStdout(), "No labelled posts; model not written\n")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trained on %d posts: %s\n", res.Examples, modelPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "output", "", "Model file path (default MODEL_PATH)")
	return cmd
}
