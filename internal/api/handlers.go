package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"MarketPipeline/internal/config"
	"MarketPipeline/internal/model"
	"MarketPipeline/internal/report"
	"MarketPipeline/internal/store"

	"github.com/gorilla/mux"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Timestamp: s.Now(), Version: s.Version, Database: "healthy"}
	if err := s.Store.Ping(r.Context()); err != nil {
		s.Logger.Error("database health check failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = "unhealthy"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	bar, err := req.bar()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rec, err := s.Store.Create(r.Context(), bar)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, fmt.Sprintf("Market data for %s on %s already exists", strings.ToUpper(bar.Ticker), req.Date))
		return
	}
	if err != nil {
		s.Logger.Error("create market data", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create market data")
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{Ticker: q.Get("ticker"), Page: 1, Size: store.DefaultPageSize}

	var err error
	if f.Start, err = dateParam(q.Get("start_date")); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "start_date: "+err.Error())
		return
	}
	if f.End, err = dateParam(q.Get("end_date")); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "end_date: "+err.Error())
		return
	}
	if f.Page, err = intParam(q.Get("page"), 1, 1, 0); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "page: "+err.Error())
		return
	}
	if f.Size, err = intParam(q.Get("size"), store.DefaultPageSize, 1, store.MaxPageSize); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "size: "+err.Error())
		return
	}

	page, err := s.Store.List(r.Context(), f)
	if err != nil {
		s.Logger.Error("list market data", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list market data")
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.Store.Get(r.Context(), id)
	if s.storeError(w, err, id, "Failed to get market data") {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	var u model.BarUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(u); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rec, err := s.Store.Update(r.Context(), id, u)
	if s.storeError(w, err, id, "Failed to update market data") {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	if s.storeError(w, s.Store.Delete(r.Context(), id), id, "Failed to delete market data") {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.Store.Tickers(r.Context())
	if err != nil {
		s.Logger.Error("list tickers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list tickers")
		return
	}
	writeJSON(w, http.StatusOK, tickers)
}

// handleRunETL runs a batch synchronously. The response is 200 whenever the
// batch completes, even if every ticker failed.
func (s *Server) handleRunETL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var tickers []string
	for _, v := range q["tickers"] {
		tickers = append(tickers, config.ParseTickers(v)...)
	}
	force, err := boolParam(q.Get("force"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "force: "+err.Error())
		return
	}
	incremental, err := boolParam(q.Get("incremental"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "incremental: "+err.Error())
		return
	}

	// A client disconnect must not cancel the tickers still to run.
	stats := s.Runner.RunBatch(context.WithoutCancel(r.Context()), tickers, force, incremental)
	s.Logger.Info("ETL triggered manually",
		zap.String("run_id", stats.RunID),
		zap.Bool("force", force),
		zap.Bool("incremental", incremental))
	if s.ReportFile != "" {
		if err := report.Save(s.ReportFile, &stats); err != nil {
			s.Logger.Error("save batch report", zap.String("run_id", stats.RunID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	stats, err := report.Load(s.ReportFile)
	if errors.Is(err, report.ErrNoReport) {
		writeError(w, http.StatusNotFound, "No ETL run recorded yet")
		return
	}
	if err != nil {
		s.Logger.Error("load batch report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load last ETL run")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid record id")
		return 0, false
	}
	return id, true
}

// storeError writes the response for a failed point operation and reports
// whether it did.
func (s *Server) storeError(w http.ResponseWriter, err error, id int64, detail string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Market data with ID %d not found", id))
	default:
		s.Logger.Error(detail, zap.Int64("record_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, detail)
	}
	return true
}

func dateParam(v string) (optional.Option[time.Time], error) {
	if v == "" {
		return optional.None[time.Time](), nil
	}
	d, err := model.ParseDate(v)
	if err != nil {
		return optional.None[time.Time](), err
	}
	return optional.Some(d), nil
}

// intParam parses v with a default; hi of 0 means unbounded.
func intParam(v string, def, lo, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", v)
	}
	if n < lo || (hi > 0 && n > hi) {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return n, nil
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
