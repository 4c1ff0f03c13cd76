package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/twbeatles/intranet-messenger/internal/api"
	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/maintenance"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/oidc"
	"github.com/twbeatles/intranet-messenger/internal/pin"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/postgres"
	"github.com/twbeatles/intranet-messenger/internal/presence"
	"github.com/twbeatles/intranet-messenger/internal/ratelimit"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/scan"
	"github.com/twbeatles/intranet-messenger/internal/search"
	"github.com/twbeatles/intranet-messenger/internal/session"
	"github.com/twbeatles/intranet-messenger/internal/sso"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/upload"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

// server holds the shared dependencies route registration closes over.
type server struct {
	cfg   *config.Config
	db    *pgxpool.Pool
	store *statestore.Store
	hub   *gateway.Hub
	users user.Repository

	authHandler     *api.AuthHandler
	meHandler       *api.MeHandler
	mfaHandler      *api.MFAHandler
	configHandler   *api.ConfigHandler
	healthHandler   *api.HealthHandler
	roomHandler     *api.RoomHandler
	messageHandler  *api.MessageHandler
	pinHandler      *api.PinHandler
	pollHandler     *api.PollHandler
	reactionHandler *api.ReactionHandler
	searchHandler   *api.SearchHandler
	uploadHandler   *api.UploadHandler
	oidcHandler     *api.OIDCHandler
	gatewayHandler  *api.GatewayHandler
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().Str("version", version).Str("commit", commit).Str("env", cfg.ServerEnv).Msg("Starting intranet messenger server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	redisURL := ""
	if cfg.FeatureRedisEnabled {
		redisURL = cfg.StateStoreRedisURL
		if redisURL == "" {
			redisURL = cfg.RedisURL
		}
	}
	store := statestore.New(redisURL, "im", log.Logger)
	log.Info().Bool("redis_enabled", store.RedisEnabled()).Msg("State store ready")

	presenceStore := presence.NewStore(store)
	limiterSvc := ratelimit.New(store)

	usersRepo := user.NewPGRepository(db, log.Logger)
	roomsRepo := room.NewPGRepository(db, log.Logger)
	messagesRepo := message.NewPGRepository(db, log.Logger)
	pinsRepo := pin.NewPGRepository(db, log.Logger)
	pollsRepo := poll.NewPGRepository(db, log.Logger)
	reactionsRepo := reaction.NewPGRepository(db, log.Logger)
	roomfilesRepo := roomfile.NewPGRepository(db, log.Logger)
	searchRepo := search.NewPGRepository(db, log.Logger)
	auditRepo := audit.NewPGRepository(db, log.Logger)
	ssoRepo := sso.NewPGRepository(db, log.Logger)
	jobsRepo := upload.NewPGJobRepository(db, log.Logger)

	sessionStore := gateway.NewSessionStore(store, time.Duration(cfg.GatewaySessionTTLSeconds)*time.Second, cfg.GatewayReplayBufferSize)
	hub := gateway.NewHub(cfg, store, presenceStore, limiterSvc, sessionStore, usersRepo, roomsRepo, messagesRepo, pinsRepo, pollsRepo, reactionsRepo, roomfilesRepo, auditRepo, log.Logger)

	// Background maintenance: expired polls, stale access logs, empty rooms, and (if configured) message/file
	// retention. The interval is already floored at 30s by config.Load.
	maintenanceWorker := maintenance.New(maintenance.Config{
		Interval:           time.Duration(cfg.MaintenanceIntervalSeconds) * time.Second,
		AccessLogRetention: time.Duration(cfg.AccessLogRetentionDays) * 24 * time.Hour,
		MessageRetention:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		UploadsRoot:        cfg.UploadsRoot,
	}, pollsRepo, auditRepo, roomsRepo, messagesRepo, roomfilesRepo, log.Logger)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go maintenanceWorker.Run(workerCtx)
	log.Info().Dur("interval", time.Duration(cfg.MaintenanceIntervalSeconds)*time.Second).Msg("Maintenance worker started")

	if cfg.AVEnabled() {
		var scanner scan.Scanner
		switch cfg.AVScanner {
		case "clamd":
			scanner = scan.NewClamdScanner(cfg.AVClamdHost, cfg.AVClamdPort, time.Duration(cfg.AVScanTimeoutSeconds)*time.Second)
		default:
			log.Warn().Str("scanner", cfg.AVScanner).Msg("Unrecognized AV_SCANNER value; uploads will be scanned with a no-op scanner")
			scanner = scan.NullScanner{}
		}
		scanWorker := scan.NewWorker(jobsRepo, scanner, store, cfg.UploadsRoot, log.Logger)
		go scanWorker.Run(workerCtx)
		log.Info().Str("scanner", cfg.AVScanner).Msg("AV scan worker started")
	}

	var endpoints oidc.Endpoints
	var keys *oidc.KeySet
	if cfg.OIDCConfigured() {
		endpoints = oidc.Endpoints{
			AuthorizeURL: cfg.OIDCAuthorizeURL,
			TokenURL:     cfg.OIDCTokenURL,
			UserinfoURL:  cfg.OIDCUserinfoURL,
			JWKSURL:      cfg.OIDCJWKSURL,
			Issuer:       cfg.OIDCIssuerURL,
		}
		if cfg.OIDCIssuerURL != "" {
			discovered, discErr := oidc.Discover(ctx, cfg.OIDCIssuerURL)
			if discErr != nil {
				log.Warn().Err(discErr).Msg("OIDC discovery failed; relying on explicitly configured endpoints")
			} else {
				endpoints = oidc.ResolveEndpoints(endpoints, discovered)
			}
		}
		keys = oidc.NewKeySet(endpoints.JWKSURL, time.Duration(cfg.OIDCJWKSCacheSeconds)*time.Second)
		log.Info().Str("provider", cfg.OIDCProviderName).Msg("OIDC single sign-on configured")
	}

	srv := &server{
		cfg:   cfg,
		db:    db,
		store: store,
		hub:   hub,
		users: usersRepo,

		authHandler:     api.NewAuthHandler(usersRepo, auditRepo, store, cfg, log.Logger),
		meHandler:       api.NewMeHandler(usersRepo, presenceStore, auditRepo, cfg, log.Logger),
		mfaHandler:      api.NewMFAHandler(usersRepo, store, cfg, log.Logger),
		configHandler:   api.NewConfigHandler(cfg),
		healthHandler:   api.NewHealthHandler(db, store),
		roomHandler:     api.NewRoomHandler(roomsRepo, usersRepo, roomfilesRepo, auditRepo, hub, cfg.ServerSecret, log.Logger),
		messageHandler:  api.NewMessageHandler(messagesRepo, roomsRepo, reactionsRepo, auditRepo, hub, log.Logger),
		pinHandler:      api.NewPinHandler(pinsRepo, roomsRepo, hub, log.Logger),
		pollHandler:     api.NewPollHandler(pollsRepo, roomsRepo, auditRepo, hub, log.Logger),
		reactionHandler: api.NewReactionHandler(reactionsRepo, messagesRepo, roomsRepo, hub, log.Logger),
		searchHandler:   api.NewSearchHandler(searchRepo, limiterSvc, cfg.RateLimitAdvancedSearchPerMinute, log.Logger),
		uploadHandler:   api.NewUploadHandler(roomsRepo, roomfilesRepo, jobsRepo, store, cfg.UploadsRoot, cfg.AVEnabled(), cfg.MaxContentLength, log.Logger),
		oidcHandler:     api.NewOIDCHandler(cfg, endpoints, keys, usersRepo, ssoRepo, auditRepo, store, log.Logger),
		gatewayHandler:  api.NewGatewayHandler(hub),
	}

	app := fiber.New(fiber.Config{
		AppName:   "intranet-messenger",
		BodyLimit: cfg.BodyLimitBytes(),
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			msg := "An internal error occurred"
			code := httputil.CodeInternal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				msg = fe.Message
				code = fiberStatusToCode(fe.Code)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Unhandled error")
			}
			return httputil.Fail(c, status, code, msg)
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", session.CSRFHeader},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		hub.Shutdown()
		workerCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// registerRoutes wires every handler onto its route. Fiber matches Use()/Group() middleware by path prefix across
// the whole tree, not by which Go variable registered the terminal handler, so auth and CSRF checks are passed as
// explicit handler arguments on each protected route or resource group instead of one blanket "/api" gate — that is
// the only way to let session.IsExemptPath's endpoints (and the self-decoding GET /api/me) share the /api prefix
// with protected routes without also being swept into the session check.
func (s *server) registerRoutes(app *fiber.App) {
	app.Get("/healthz", s.healthHandler.Check)

	requireSession := session.RequireSession(session.Config{Secret: s.cfg.JWTSecret, Lookup: s.users})
	requireCSRF := session.RequireCSRF(s.cfg.ServerSecret)

	authLimiter := func(perMinute int) fiber.Handler {
		return limiter.New(limiter.Config{Max: perMinute, Expiration: time.Minute})
	}

	// Exempt per session.IsExemptPath, plus the always-public GET /api/me which decodes its own cookie so it keeps
	// answering logged-out clients instead of 401ing.
	app.Get("/api/me", s.meHandler.Get)
	app.Get("/api/config", s.configHandler.Get)
	app.Get("/api/auth/providers", s.configHandler.Providers)
	app.Post("/api/register", authLimiter(s.cfg.RateLimitRegisterPerMinute), s.authHandler.Register)
	app.Post("/api/login", authLimiter(s.cfg.RateLimitLoginPerMinute), s.authHandler.Login)
	app.Post("/api/logout", s.authHandler.Logout)
	app.Get("/auth/oidc/login", s.oidcHandler.Login)
	app.Get("/auth/oidc/callback", s.oidcHandler.Callback)

	// Self and directory.
	app.Put("/api/me", requireSession, requireCSRF, s.meHandler.Update)
	app.Put("/api/me/password", requireSession, requireCSRF, s.meHandler.ChangePassword)
	app.Delete("/api/me", requireSession, requireCSRF, s.meHandler.Delete)
	app.Get("/api/users", requireSession, s.meHandler.ListAll)
	app.Get("/api/users/online", requireSession, s.meHandler.ListOnline)

	// MFA management.
	mfa := app.Group("/api/me/mfa", requireSession, requireCSRF)
	mfa.Post("/setup", s.mfaHandler.Begin)
	mfa.Post("/confirm", s.mfaHandler.Confirm)
	mfa.Post("/disable", s.mfaHandler.Disable)
	mfa.Post("/recovery-codes", s.mfaHandler.RegenerateCodes)

	// Rooms.
	app.Get("/api/rooms", requireSession, s.roomHandler.List)
	app.Post("/api/rooms", requireSession, requireCSRF, s.roomHandler.Create)

	rooms := app.Group("/api/rooms/:id", requireSession)
	rooms.Get("/info", s.roomHandler.Info)
	rooms.Post("/members", requireCSRF, s.roomHandler.Invite)
	rooms.Delete("/members/:uid", requireCSRF, s.roomHandler.Kick)
	rooms.Post("/leave", requireCSRF, s.roomHandler.Leave)
	rooms.Put("/name", requireCSRF, s.roomHandler.Rename)
	rooms.Post("/pin-room", requireCSRF, s.roomHandler.PinRoom)
	rooms.Post("/mute", requireCSRF, s.roomHandler.Mute)
	rooms.Get("/admins", s.roomHandler.Admins)
	rooms.Get("/admin-check", s.roomHandler.AdminCheck)
	rooms.Post("/admins", requireCSRF, s.roomHandler.SetAdmin)
	rooms.Get("/admin-audit-logs", s.roomHandler.AdminAuditLogs)
	rooms.Get("/files", s.roomHandler.Files)
	rooms.Delete("/files/:file_id", requireCSRF, s.roomHandler.DeleteFile)
	rooms.Get("/messages", s.messageHandler.List)
	rooms.Get("/pins", s.pinHandler.List)
	rooms.Post("/pins", requireCSRF, s.pinHandler.Create)
	rooms.Delete("/pins/:pin_id", requireCSRF, s.pinHandler.Delete)
	rooms.Get("/polls", s.pollHandler.List)
	rooms.Post("/polls", requireCSRF, s.pollHandler.Create)

	// Standalone message and poll routes addressed by their own id.
	app.Get("/api/messages/:id", requireSession, s.messageHandler.Get)
	app.Put("/api/messages/:id", requireSession, requireCSRF, s.messageHandler.Edit)
	app.Delete("/api/messages/:id", requireSession, requireCSRF, s.messageHandler.Delete)
	app.Get("/api/messages/:id/reactions", requireSession, s.reactionHandler.List)
	app.Post("/api/messages/:id/reactions", requireSession, requireCSRF, s.reactionHandler.Toggle)
	app.Post("/api/polls/:id/vote", requireSession, requireCSRF, s.pollHandler.Vote)
	app.Post("/api/polls/:id/close", requireSession, requireCSRF, s.pollHandler.Close)

	// Search.
	app.Get("/api/search", requireSession, s.searchHandler.Search)
	app.Post("/api/search/advanced", requireSession, requireCSRF, s.searchHandler.Advanced)

	// Uploads.
	app.Post("/api/upload", requireSession, requireCSRF, authLimiter(s.cfg.RateLimitUploadPerMinute), s.uploadHandler.Upload)
	app.Get("/api/upload/jobs/:job_id", requireSession, s.uploadHandler.JobStatus)
	app.Get("/uploads/*", requireSession, s.uploadHandler.ServeFile)

	// Realtime gateway (authenticated, not CSRF-checked: it is a GET upgrade, not a state-changing call).
	app.Get("/api/gateway", requireSession, s.gatewayHandler.Upgrade)

	// Unmatched requests fall through to a terminal 404, matching Fiber v3's treatment of app.Use() as a route
	// match: without this the router would otherwise answer with an empty 200 body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// fiberStatusToCode maps an HTTP status from Fiber's own built-in errors (404, 405, etc.) to the closest response
// envelope code.
func fiberStatusToCode(status int) httputil.Code {
	switch status {
	case fiber.StatusNotFound:
		return httputil.CodeNotFound
	case fiber.StatusMethodNotAllowed:
		return httputil.CodeValidation
	case fiber.StatusTooManyRequests:
		return httputil.CodeRateLimited
	case fiber.StatusRequestEntityTooLarge:
		return httputil.CodePayloadTooLarge
	default:
		if status >= 400 && status < 500 {
			return httputil.CodeValidation
		}
		return httputil.CodeInternal
	}
}
