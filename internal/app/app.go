package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"leadignite/api/internal/a2a"
	"leadignite/api/internal/admin"
	"leadignite/api/internal/affiliate"
	"leadignite/api/internal/blob"
	"leadignite/api/internal/catalog"
	"leadignite/api/internal/chat"
	"leadignite/api/internal/config"
	"leadignite/api/internal/discount"
	"leadignite/api/internal/ghl"
	"leadignite/api/internal/kanban"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/mcp"
	"leadignite/api/internal/notify"
	"leadignite/api/internal/search"
	"leadignite/api/internal/store"
	"leadignite/api/internal/team"
	"leadignite/api/internal/users"
	"leadignite/api/internal/vector"
)

const boardCacheTTL = 15 * time.Minute

// Deps are the infrastructure handles built by main. Every field except
// Config is optional; a nil handle selects the in-memory implementation.
type Deps struct {
	Config  config.Config
	Logger  *zap.Logger
	DB      *sql.DB
	Redis   *redis.Client
	Search  search.Engine
	Blobs   blob.Store
	Vectors vector.Store
}

// App holds every domain service, wired together.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Users      *users.Service
	Discounts  *discount.Service
	Affiliates *affiliate.Service
	Catalog    *catalog.Service
	Teams      *team.Service
	Profiles   *chat.ProfileService
	Threads    *chat.ThreadService
	Messages   *chat.MessageService
	Boards     *kanban.Registry
	Vectors    *vector.Service
	GHL        *ghl.AccountRegistry
	GHLEvents  ghl.EventLog
	Search     *search.Service
	Mailer     *notify.Sender
	Audit      *admin.Service
	Tools      *mcp.Service
	Agents     *a2a.Router

	checks []readinessCheck
}

type readinessCheck struct {
	name     string
	required bool
	run      func(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

var errSearchDegraded = errors.New("search engine unavailable, serving from memory")

func New(deps Deps) *App {
	cfg := deps.Config
	logger := logging.OrNop(deps.Logger)

	a := &App{cfg: cfg, logger: logger}

	a.Mailer = notify.NewSender(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, logger.Named("notify"))
	a.Search = search.NewService(deps.Search, logger.Named("search"))

	var (
		ledger     discount.UsageLedger = discount.NewMemoryLedger()
		boardCache kanban.BoardCache
	)
	if deps.Redis != nil {
		ledger = discount.NewRedisLedgerWithClient(deps.Redis)
		boardCache = kanban.NewRedisCache(deps.Redis, boardCacheTTL)
	}

	blobs := deps.Blobs
	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}
	if p, ok := blobs.(pinger); ok {
		a.checks = append(a.checks, readinessCheck{name: "blob", required: true, run: p.Ping})
	}
	vectors := deps.Vectors
	if vectors == nil {
		vectors = vector.NewMemoryStore()
	}

	a.Users = users.NewService(logger.Named("users"))
	a.Discounts = discount.NewService(discount.NewMemoryRepository(), ledger, logger.Named("discount"))
	a.Affiliates = affiliate.NewService(affiliate.NewMemoryRepository(), a.Mailer, a.Discounts, affiliate.Options{
		DefaultCurrency: cfg.DefaultCurrency,
	}, logger.Named("affiliate"))
	a.Catalog = catalog.NewService(catalog.NewMemoryRepository(), a.Search, logger.Named("catalog"))
	a.Teams = team.NewService(team.NewMemoryRepository(), a.Mailer, cfg.AppBaseURL, logger.Named("team"))
	a.Profiles = chat.NewProfileService(logger.Named("chat"))
	a.Threads = chat.NewThreadService(a.Profiles, logger.Named("chat"))
	a.Messages = chat.NewMessageService(a.Threads, a.Search, blobs, logger.Named("chat"))
	a.Boards = kanban.NewRegistry(boardCache, logger.Named("kanban"))
	a.Vectors = vector.NewService(vectors, cfg.VectorDimensions, logger.Named("vector"))
	a.GHL = ghl.NewAccountRegistry(logger.Named("ghl"))

	var auditStore admin.Store
	if deps.DB != nil {
		a.GHLEvents = store.NewPostgresStore(deps.DB)
		auditStore = store.NewAuditStore(deps.DB)
		db := deps.DB
		a.checks = append(a.checks, readinessCheck{name: "database", required: true, run: func(ctx context.Context) error {
			return store.Check(ctx, db)
		}})
	} else {
		a.GHLEvents = ghl.NewMemoryEventLog()
	}
	a.Audit = admin.NewService(auditStore, logger.Named("audit"))
	a.Teams.WithAuditor(a.Audit)
	a.Affiliates.WithAuditor(a.Audit)

	a.Tools = mcp.NewService(mcp.NewRegistry(), logger.Named("mcp"))
	a.registerTools(a.Tools.Registry())
	a.Agents = a2a.NewRouter(logger.Named("a2a"))
	if err := a.Agents.Register(a.platformAgent()); err != nil {
		logger.Error("register platform agent", zap.Error(err))
	}
	if deps.Redis != nil {
		client := deps.Redis
		a.checks = append(a.checks, readinessCheck{name: "redis", required: true, run: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}
	if a.Search.Configured() {
		a.checks = append(a.checks, readinessCheck{name: "search", run: func(context.Context) error {
			if !a.Search.Healthy() {
				return errSearchDegraded
			}
			return nil
		}})
	}
	a.checks = append(a.checks, readinessCheck{name: "vector", required: true, run: a.Vectors.Ping})

	logger.Info("services wired",
		zap.Bool("postgres", deps.DB != nil),
		zap.Bool("redis", deps.Redis != nil),
		zap.Bool("meilisearch", a.Search.Configured()),
		zap.String("vector_backend", a.Vectors.Backend()),
		zap.Bool("smtp", a.Mailer.IsConfigured()),
		zap.Int("tools", len(a.Tools.Registry().List())),
	)
	return a
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready runs every readiness check. ready is false when a required check
// fails; optional checks report "degraded".
func (a *App) Ready(ctx context.Context) (ready bool, results map[string]checkResult) {
	ready = true
	results = make(map[string]checkResult, len(a.checks))
	for _, c := range a.checks {
		err := c.run(ctx)
		switch {
		case err == nil:
			results[c.name] = checkResult{Status: "ok"}
		case c.required:
			ready = false
			results[c.name] = checkResult{Status: "error", Error: err.Error()}
		default:
			results[c.name] = checkResult{Status: "degraded", Error: err.Error()}
		}
	}
	return ready, results
}
