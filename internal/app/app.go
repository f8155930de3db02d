package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/config"
	"github.com/hitoshi/taskman/internal/database"
	"github.com/hitoshi/taskman/internal/handler"
	"github.com/hitoshi/taskman/internal/logger"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/user"
	"github.com/hitoshi/taskman/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	svix "github.com/svix/svix-webhooks/go"
)

// 外部IdPとの通信設定
const (
	jwksCacheTTL      = 10 * time.Minute
	idpRequestTimeout = 10 * time.Second
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Command はtaskmanのサブコマンド。
type Command string

const (
	CommandServe   Command = "serve"
	CommandWorker  Command = "worker" // 期限切れセッションの定期削除
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はコンテナのHEALTHCHECKから実行する。設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 未指定または未知の値はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) > 0 {
		if cmd, ok := commands[args[0]]; ok {
			return cmd
		}
	}
	return CommandServe
}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("auth_mode", cfg.AuthMode),
		slog.String("session_store", cfg.SessionStore),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// openSessionStore は設定に応じたセッションストアを返す。
// 返されたclose関数は呼び出し側で必ず実行すること。
func openSessionStore(cfg *config.Config, db *sql.DB) (repository.SessionRepository, func() error, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return repository.NewPostgresSessionRepo(db), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	return repository.NewRedisSessionRepo(client), client.Close, nil
}

// newRegistry はアプリケーションのメトリクスとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)
	sessionRepo, closeSessions, err := openSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	// 3. メトリクス
	registry, collector := newRegistry()

	// 4. ドメインサービスの初期化
	sessions := auth.NewSessionManager(sessionRepo, auth.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionMaxAge,
	})
	taskService := task.NewService(taskRepo, security.NewTextSanitizer(), cfg.TasksPageSize, collector)
	userService := user.NewService(userRepo, sessionRepo)

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitSignIn),
		collector,
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPMetrics:       collector,
		MetricsHandler:    metrics.Handler(registry),
		TaskService:       taskService,
		UserService:       userService,
	}

	// 5. 認証モードごとの依存関係
	if err := wireAuth(cfg, deps, sessions, userRepo, userService, collector); err != nil {
		return err
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server)
}

// wireAuth は認証モードに応じてResolverと認証系の依存関係をdepsに設定する。
func wireAuth(
	cfg *config.Config,
	deps *handler.RouterDeps,
	sessions *auth.SessionManager,
	userRepo repository.UserRepository,
	userService *user.Service,
	collector *metrics.Collector,
) error {
	switch cfg.AuthMode {
	case config.AuthModeExternal:
		if !cfg.IDPAllowPrivateNetwork {
			if err := security.ValidateOutboundURL(cfg.IDPJWKSURL); err != nil {
				return fmt.Errorf("invalid IDP_JWKS_URL: %w", err)
			}
		}
		jwks := auth.NewJWKSCache(cfg.IDPJWKSURL, jwksCacheTTL, idpHTTPClient(cfg))
		verifier := auth.NewTokenVerifier(jwks, auth.TokenVerifierConfig{
			Issuer:   cfg.IDPIssuer,
			Audience: cfg.IDPAudience,
		})
		resolver, err := auth.NewResolver(cfg.AuthMode, auth.ResolverOptions{Verifier: verifier, Users: userRepo})
		if err != nil {
			return fmt.Errorf("failed to build resolver: %w", err)
		}
		webhook, err := svix.NewWebhook(cfg.WebhookSigningSecret)
		if err != nil {
			return fmt.Errorf("invalid WEBHOOK_SIGNING_SECRET: %w", err)
		}

		deps.Resolver = resolver
		deps.WebhookVerifier = webhook
		deps.IdentityEvents = userService

	default:
		resolver, err := auth.NewResolver(cfg.AuthMode, auth.ResolverOptions{Sessions: sessions, Users: userRepo})
		if err != nil {
			return fmt.Errorf("failed to build resolver: %w", err)
		}

		deps.Resolver = resolver
		deps.CSRF = &middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}
		deps.AccountService = auth.NewPasswordService(
			userRepo,
			security.NewPasswordHasher(cfg.PasswordIterations),
			sessions,
			collector,
		)
		deps.SessionClearer = sessions
	}
	return nil
}

// idpHTTPClient は外部IdPへの通信に使うHTTPクライアントを返す。
// IDP_ALLOW_PRIVATE_NETWORKが無効の場合、プライベートアドレス宛ての接続は拒否される。
func idpHTTPClient(cfg *config.Config) *http.Client {
	if cfg.IDPAllowPrivateNetwork {
		return &http.Client{Timeout: idpRequestTimeout}
	}
	return security.NewOutboundClient(idpRequestTimeout)
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを定期実行し、/metricsと/healthを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionRepo, closeSessions, err := openSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	registry, collector := newRegistry()
	job := cleanup.NewSessionCleanupJob(sessionRepo, collector, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, cfg.SessionCleanupInterval)
	}()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerRouter(db, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	err = serveUntilSignal(server)
	cancel()
	<-done
	slog.Info("worker stopped gracefully")
	return err
}

// newWorkerRouter はワーカーが公開する/metricsと/healthのルーターを返す。
func newWorkerRouter(checker handler.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Get("/health", handler.NewHealthHandler(checker))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	return r
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
