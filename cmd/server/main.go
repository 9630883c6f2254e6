package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/werkstatt-io/kalkwerk/calc"
	"github.com/werkstatt-io/kalkwerk/catalog"
	"github.com/werkstatt-io/kalkwerk/expense"
	"github.com/werkstatt-io/kalkwerk/geometry"
	"github.com/werkstatt-io/kalkwerk/internal/logger"
	"github.com/werkstatt-io/kalkwerk/pricing"
	"github.com/werkstatt-io/kalkwerk/rule"
)

type Server struct {
	db     *sql.DB
	router *chi.Mux

	catalogs      catalog.Store
	snapshots     catalog.SnapshotCache
	resolver      *catalog.Resolver
	costRules     rule.CostRuleStore
	factors       pricing.FactorStore
	factorSource  *pricing.Source
	expenses      expense.Store
	geometryRules geometry.RuleStore
	overlays      geometry.OverlayStore
	calculator    *calc.Calculator

	limits rule.Limits
}

// NewServer connects to the database and wires the calculation stack on
// top of the PostgreSQL stores.
func NewServer(databaseURL string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := newServer(
		catalog.NewPostgresStore(db),
		rule.NewPostgresCostRuleStore(db),
		pricing.NewPostgresFactorStore(db),
		expense.NewPostgresStore(db),
		geometry.NewPostgresRuleStore(db),
		geometry.NewPostgresOverlayStore(db),
	)
	s.db = db
	return s, nil
}

// newServer wires the stages over any store implementations. Tests use it
// with the in-memory stores.
func newServer(
	catalogs catalog.Store,
	costRules rule.CostRuleStore,
	factors pricing.FactorStore,
	expenses expense.Store,
	geometryRules geometry.RuleStore,
	overlays geometry.OverlayStore,
) *Server {
	snapshots := catalog.NewInMemorySnapshotCache()
	resolver := catalog.NewResolver(catalogs, snapshots)
	factorSource := pricing.NewSource(factors)
	limits := rule.DefaultLimits()

	s := &Server{
		catalogs:      catalogs,
		snapshots:     snapshots,
		resolver:      resolver,
		costRules:     costRules,
		factors:       factors,
		factorSource:  factorSource,
		expenses:      expenses,
		geometryRules: geometryRules,
		overlays:      overlays,
		calculator: calc.NewCalculator(
			resolver, geometryRules, overlays, costRules, factorSource, expenses, limits,
		),
		limits: limits,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Calculation
	r.Post("/api/v1/calculate", s.handleCalculate)

	// Geometry overrides per calculation
	r.Route("/api/v1/calculations/{calculationId}/geometry", func(r chi.Router) {
		r.Put("/{edgeClass}", s.handleSetGeometryOverride)
		r.Delete("/", s.handleClearGeometryOverrides)
	})

	// Catalog administration
	r.Route("/api/v1/components", func(r chi.Router) {
		r.Post("/", s.handleCreateComponent)
		r.Get("/{componentId}", s.handleGetComponent)
		r.Put("/{componentId}", s.handleUpdateComponent)
	})
	r.Route("/api/v1/catalogs", func(r chi.Router) {
		r.Post("/", s.handleCreateCatalog)
		r.Get("/{catalogId}", s.handleGetCatalog)
		r.Put("/{catalogId}", s.handleUpdateCatalog)
		r.Post("/{catalogId}/default", s.handleSetDefaultCatalog)
		r.Post("/{catalogId}/versions", s.handleCreateCatalogVersion)
		r.Get("/{catalogId}/versions", s.handleListCatalogVersions)
	})

	// Rule administration
	r.Route("/api/v1/cost-rules", func(r chi.Router) {
		r.Post("/", s.handleCreateCostRule)
		r.Get("/", s.handleListCostRules)
		r.Get("/{ruleId}", s.handleGetCostRule)
		r.Put("/{ruleId}", s.handleUpdateCostRule)
		r.Delete("/{ruleId}", s.handleDeleteCostRule)
	})
	r.Route("/api/v1/factors", func(r chi.Router) {
		r.Post("/", s.handleCreateFactor)
		r.Get("/{factorId}", s.handleGetFactor)
		r.Put("/{factorId}", s.handleUpdateFactor)
		r.Delete("/{factorId}", s.handleDeleteFactor)
	})
	r.Route("/api/v1/expense-rules", func(r chi.Router) {
		r.Post("/", s.handleCreateExpenseRule)
		r.Get("/{ruleId}", s.handleGetExpenseRule)
		r.Put("/{ruleId}", s.handleUpdateExpenseRule)
		r.Delete("/{ruleId}", s.handleDeleteExpenseRule)
	})
	r.Route("/api/v1/geometry-rules", func(r chi.Router) {
		r.Post("/", s.handleCreateGeometryRule)
		r.Get("/", s.handleListGeometryRules)
		r.Put("/{ruleId}", s.handleUpdateGeometryRule)
		r.Delete("/{ruleId}", s.handleDeleteGeometryRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(databaseURL)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	defer server.db.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
