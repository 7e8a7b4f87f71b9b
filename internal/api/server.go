// Package api exposes stored market data and the manual ETL trigger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"MarketPipeline/internal/model"
	"MarketPipeline/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Prefix is the mount point of every route.
const Prefix = "/api/v1"

// Store is the storage the API reads and edits.
type Store interface {
	Create(ctx context.Context, bar model.MarketBar) (model.StoredRecord, error)
	Get(ctx context.Context, id int64) (model.StoredRecord, error)
	List(ctx context.Context, f store.Filter) (model.Page[model.StoredRecord], error)
	Update(ctx context.Context, id int64, u model.BarUpdate) (model.StoredRecord, error)
	Delete(ctx context.Context, id int64) error
	Tickers(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// BatchRunner runs one ETL batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, tickers []string, force, incremental bool) model.BatchStats
}

// Server serves the HTTP API.
type Server struct {
	Store      Store
	Runner     BatchRunner
	ReportFile string
	Version    string
	Logger     *zap.Logger
	Now        func() time.Time

	validate *validator.Validate
}

func NewServer(s Store, runner BatchRunner, reportFile, version string, logger *zap.Logger) *Server {
	return &Server{
		Store:      s,
		Runner:     runner,
		ReportFile: reportFile,
		Version:    version,
		Logger:     logger.Named("api"),
		Now:        time.Now,
		validate:   model.NewValidator(),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix(Prefix).Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/market-data", s.handleCreate).Methods("POST")
	api.HandleFunc("/market-data", s.handleList).Methods("GET")
	api.HandleFunc("/market-data/{id:[0-9]+}", s.handleGet).Methods("GET")
	api.HandleFunc("/market-data/{id:[0-9]+}", s.handleUpdate).Methods("PUT")
	api.HandleFunc("/market-data/{id:[0-9]+}", s.handleDelete).Methods("DELETE")
	api.HandleFunc("/tickers", s.handleTickers).Methods("GET")
	api.HandleFunc("/etl/run", s.handleRunETL).Methods("POST")
	api.HandleFunc("/etl/last", s.handleLastRun).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	router.Use(s.recoverMiddleware, s.loggingMiddleware)
	return router
}

// NewHTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
