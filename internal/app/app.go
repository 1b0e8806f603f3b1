// Package app はコンソールの起動処理とCLIコマンドを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
	"github.com/hitoshi/mfgconsole/internal/config"
	"github.com/hitoshi/mfgconsole/internal/database"
	"github.com/hitoshi/mfgconsole/internal/documents"
	"github.com/hitoshi/mfgconsole/internal/handler"
	"github.com/hitoshi/mfgconsole/internal/logger"
	"github.com/hitoshi/mfgconsole/internal/metrics"
	"github.com/hitoshi/mfgconsole/internal/middleware"
	"github.com/hitoshi/mfgconsole/internal/resource"
	"github.com/hitoshi/mfgconsole/internal/security"
	"github.com/hitoshi/mfgconsole/internal/session"
	"github.com/hitoshi/mfgconsole/internal/tokenstore"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(""); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再設定する
	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Deps はコマンドが共有する依存関係。
// プロセスごとにsession.Managerは1つだけ生成する。
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Collector
	Session   *session.Manager
	Resources *resource.Service
	Documents *documents.Downloader

	closers []func() error
}

// Close はトークンストアの接続などを閉じる。
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wire は設定から全依存関係を組み立てる。
// 永続化されたトークンからのセッション復元は呼び出し側がSession.Initializeで行う。
func Wire(ctx context.Context, cfg *config.Config, log *slog.Logger, nav session.Navigator) (*Deps, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Deps{Config: cfg, Logger: log}

	// 1. トークンストア
	store, closeStore, err := openTokenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		d.closers = append(d.closers, closeStore)
	}

	// 2. メトリクス
	d.Registry = prometheus.NewRegistry()
	d.Metrics = metrics.NewCollector(d.Registry)

	// 3. バックエンドAPIクライアント
	client, err := apiclient.NewClient(
		&http.Client{Timeout: cfg.RequestTimeout},
		log,
		apiclient.Config{
			BaseURL:   cfg.APIBaseURL,
			RateLimit: cfg.APIRateLimit,
			RateBurst: cfg.APIRateBurst,
		},
	)
	if err != nil {
		d.Close()
		return nil, err
	}
	client.SetRecorder(d.Metrics)

	// 4. セッション管理
	d.Session = session.NewManager(client, store, session.Options{
		Navigator: nav,
		Recorder:  d.Metrics,
		Logger:    log,
	})

	// 5. リソースと出荷書類
	d.Resources = resource.NewService(d.Session, resource.DefaultCatalog(), cfg.PageSize, log)
	d.Documents, err = documents.NewDownloader(documents.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.DocumentTimeout,
		MaxSize: cfg.DocumentMaxSize,
	}, security.NewDocumentGuard(security.DocumentPolicy{
		AllowedHosts: cfg.DocumentHosts,
		AllowHTTP:    cfg.DocumentAllowHTTP,
		MaxSize:      cfg.DocumentMaxSize,
		Timeout:      cfg.DocumentTimeout,
	}), d.Session, log)
	if err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

// openTokenStore はTOKEN_STOREに応じたトークンストアを開く。
// 返される関数はストアの接続を閉じる（不要な場合はnil）。
func openTokenStore(ctx context.Context, cfg *config.Config) (tokenstore.Store, func() error, error) {
	switch cfg.TokenStore {
	case config.TokenStorePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("database connection established")
		return tokenstore.NewPostgresStore(db, cfg.TokenKey), db.Close, nil

	case config.TokenStoreRedis:
		rdb, err := tokenstore.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return tokenstore.NewRedisStore(rdb, cfg.TokenKey, cfg.TokenTTL), rdb.Close, nil

	case config.TokenStoreMemory:
		return tokenstore.NewMemoryStore(), nil, nil

	default:
		store, err := tokenstore.NewFileStore(cfg.TokenFile, cfg.TokenSecret)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// runServe はWebコンソールを起動する。
// 永続化されたトークンでセッションを復元し、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINTまたはSIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, d *Deps) error {
	cfg := d.Config

	if err := d.Session.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	console, err := handler.NewConsole(d.Session, d.Resources, d.Documents, d.Metrics,
		handler.ConsoleConfig{CookieSecure: cfg.CookieSecure}, d.Logger)
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Console:     console,
		Users:       d.Session,
		RateLimiter: rateLimiter,
		CSRFConfig:  middleware.CSRFConfig{CookieSecure: cfg.CookieSecure},
		Gatherer:    d.Registry,
		Recorder:    d.Metrics,
		Logger:      d.Logger,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web console starting",
			slog.String("addr", server.Addr),
			slog.String("api_base_url", cfg.APIBaseURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	slog.Info("shutting down web console...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web console stopped gracefully")
	return nil
}

// runMigrate はトークンストア用のデータベースマイグレーションを実行する。
// directionは"up"、"down"、"version"のいずれか。
func runMigrate(w io.Writer, cfg *config.Config, direction string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	slog.Info("running database migrations",
		slog.String("direction", direction),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch direction {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case "version":
		v, dirty, err := database.Version(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "version %d (dirty: %t)\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction %q (want up, down or version)", direction)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(addr string) error {
	url := fmt.Sprintf("http://%s/healthz", addr)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
