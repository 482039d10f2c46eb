package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	godriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/steiner385/MachShop-sub017/pkg/dispatch"
	"github.com/steiner385/MachShop-sub017/pkg/feasibility"
	"github.com/steiner385/MachShop-sub017/pkg/ha"
	"github.com/steiner385/MachShop-sub017/pkg/identity"
	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// Server owns the database handle, the engine, and the HTTP router. Configure
// it with options, then call Init to open the database, migrate the schema,
// and wire everything together.
type Server struct {
	dsn         string
	creator     dispatch.WorkOrderCreator
	source      feasibility.AvailabilitySource
	resolver    identity.Resolver
	principal   identity.PrincipalExtractor
	origins     []string
	engineCfg   *Config
	dispatchCfg *dispatch.Config
	evalCfg     *feasibility.Config
	locker      ha.MigrationLocker
	logger      *slog.Logger

	db     *gorm.DB
	engine *Engine
	router chi.Router
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDSN selects the database: postgres://, mysql://, a sqlite file path, or
// :memory:. Defaults to an in-memory sqlite database.
func WithDSN(dsn string) ServerOption {
	return func(s *Server) {
		s.dsn = dsn
	}
}

// WithWorkOrderCreator sets the creator that turns dispatched entries into
// work orders. Required: Init fails without one.
func WithWorkOrderCreator(c dispatch.WorkOrderCreator) ServerOption {
	return func(s *Server) {
		s.creator = c
	}
}

// WithAvailabilitySource sets the source that answers capacity and material
// availability questions. Defaults to an empty static source, which reports
// zero availability for every target.
func WithAvailabilitySource(src feasibility.AvailabilitySource) ServerOption {
	return func(s *Server) {
		s.source = src
	}
}

// WithResolver sets the resolver that canonicalizes principals into actor
// ids. Defaults to the passthrough resolver.
func WithResolver(r identity.Resolver) ServerOption {
	return func(s *Server) {
		s.resolver = r
	}
}

// WithPrincipalExtractor sets how the caller principal is pulled from a
// request. Defaults to the X-Remote-User header.
func WithPrincipalExtractor(p identity.PrincipalExtractor) ServerOption {
	return func(s *Server) {
		s.principal = p
	}
}

// WithCORSOrigins overrides the allowed CORS origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithEngineConfig overrides the engine tuning knobs.
func WithEngineConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.engineCfg = cfg
	}
}

// WithDispatchConfig overrides the dispatcher tuning knobs.
func WithDispatchConfig(cfg *dispatch.Config) ServerOption {
	return func(s *Server) {
		s.dispatchCfg = cfg
	}
}

// WithEvaluatorConfig overrides the feasibility evaluator tuning knobs.
func WithEvaluatorConfig(cfg *feasibility.Config) ServerOption {
	return func(s *Server) {
		s.evalCfg = cfg
	}
}

// WithMigrationLocker overrides the MigrationLocker used to serialize schema
// migrations across replicas. If not set, Init picks one for the opened
// database.
func WithMigrationLocker(locker ha.MigrationLocker) ServerOption {
	return func(s *Server) {
		s.locker = locker
	}
}

// WithLogger sets the server logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer builds an unstarted server from opts. Call Init before serving.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		s.source = feasibility.NewStaticSource()
	}
	return s
}

// Init opens the database, runs schema migrations under the migration lock,
// and wires the engine behind a fully configured router.
func (s *Server) Init(ctx context.Context) error {
	if s.creator == nil {
		return errors.New("a work order creator is required")
	}

	db, err := openDatabase(s.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.db = db

	if s.locker == nil {
		s.locker = ha.NewMigrationLocker(db)
	}

	store := schedule.NewScheduleStore(db)
	tlog := schedule.NewTransitionLog(store)
	records := dispatch.NewRecordStore(db)

	err = s.locker.WithLock(ctx, func(ctx context.Context) error {
		if err := store.AutoMigrate(); err != nil {
			return err
		}
		if err := tlog.AutoMigrate(); err != nil {
			return err
		}
		return records.AutoMigrate()
	})
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	evaluator := feasibility.NewEvaluator(s.source, s.evalCfg, s.logger)
	dispatcher := dispatch.NewDispatcher(store, records, evaluator, s.creator, s.dispatchCfg, s.logger)
	s.engine = NewEngine(store, tlog, evaluator, dispatcher, records, s.engineCfg, s.logger)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Remote-User", "X-Remote-Group"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(identity.Middleware(s.resolver, s.principal, s.logger))

	router.Get("/healthz", s.healthz)
	router.Get("/readyz", s.readyz)
	router.Mount("/api/v1", NewRouter(s.engine))
	s.router = router

	return nil
}

// openDatabase selects the GORM driver from the DSN shape. Anything that is
// not postgres or mysql is treated as a sqlite path.
func openDatabase(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{}
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return gorm.Open(postgres.Open(dsn), cfg)
	case strings.HasPrefix(dsn, "mysql://"):
		mc, err := godriver.ParseDSN(strings.TrimPrefix(dsn, "mysql://"))
		if err != nil {
			return nil, err
		}
		// GORM needs time.Time scanning for the horizon and audit columns.
		mc.ParseTime = true
		return gorm.Open(mysql.Open(mc.FormatDSN()), cfg)
	case dsn == "" || dsn == ":memory:":
		return gorm.Open(sqlite.Open(":memory:"), cfg)
	default:
		return gorm.Open(sqlite.Open(dsn), cfg)
	}
}

// Routes returns the HTTP handler. Only valid after Init.
func (s *Server) Routes() chi.Router { return s.router }

// Engine returns the underlying engine, mainly for tests and embedding.
func (s *Server) Engine() *Engine { return s.engine }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  "server not initialized",
		})
		return
	}
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Close releases the database handle.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests for up to grace before giving up.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.logger.Info("shutting down", "addr", addr)
	return srv.Shutdown(sctx)
}
