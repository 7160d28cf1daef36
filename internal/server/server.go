package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/engine"
	"github.com/esnunes/helmforge/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const userHeader = "X-User-ID"

type Server struct {
	queries *db.Queries
	engine  *engine.Engine
	gateway *realtime.Gateway
	logger  *slog.Logger
	httpSrv *http.Server
	ln      net.Listener
	addr    string
}

func New(queries *db.Queries, eng *engine.Engine, gateway *realtime.Gateway, hub *realtime.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		queries: queries,
		engine:  eng,
		gateway: gateway,
		logger:  logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/workspaces", s.handleCreateWorkspace)
	mux.HandleFunc("GET /api/workspaces/{id}", s.handleGetWorkspace)
	mux.HandleFunc("GET /api/workspaces/{id}/revisions", s.handleListRevisions)
	mux.HandleFunc("PUT /api/workspaces/{id}/revisions/{rev}/files/{fileId}", s.handleSetFileContent)
	mux.HandleFunc("GET /api/workspaces/{id}/revisions/{rev}/files/{fileId}/diff", s.handlePendingDiff)
	mux.HandleFunc("POST /api/workspaces/{id}/revisions/{rev}/files/{fileId}/accept", s.handleAcceptPending)
	mux.HandleFunc("POST /api/workspaces/{id}/rollback", s.handleRollback)
	mux.HandleFunc("POST /api/workspaces/{id}/render", s.handleRender)
	mux.HandleFunc("GET /api/workspaces/{id}/renders", s.handleListRenders)

	mux.HandleFunc("POST /api/workspaces/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/workspaces/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/workspaces/{id}/messages/{chatId}/cancel", s.handleCancelMessage)
	mux.HandleFunc("POST /api/workspaces/{id}/messages/{chatId}/intent", s.handleApplyIntent)

	mux.HandleFunc("GET /api/plans/{id}", s.handleGetPlan)
	mux.HandleFunc("POST /api/plans/{id}/proceed", s.handleProceedPlan)
	mux.HandleFunc("GET /api/conversions/{id}", s.handleGetConversion)
	mux.HandleFunc("GET /api/renders/{id}", s.handleGetRender)

	mux.HandleFunc("GET /api/work-items", s.handleListWorkItems)
	mux.HandleFunc("GET /api/work-items/{id}", s.handleGetWorkItem)
	mux.HandleFunc("POST /api/conversions/{id}/status", s.handleAdvanceConversion)
	mux.HandleFunc("POST /api/conversion-files/{fileId}/status", s.handleAdvanceConversionFile)
	mux.HandleFunc("PUT /api/conversion-files/{fileId}/converted", s.handleSetConvertedFiles)
	mux.HandleFunc("POST /api/workspaces/{id}/revisions/{rev}/complete", s.handleCompleteRevision)
	mux.HandleFunc("POST /api/workspaces/{id}/revisions/{rev}/charts", s.handleAddChart)
	mux.HandleFunc("POST /api/workspaces/{id}/revisions/{rev}/files", s.handleAddFile)
	mux.HandleFunc("PUT /api/workspaces/{id}/revisions/{rev}/files/{fileId}/pending", s.handleSetPendingContent)
	mux.HandleFunc("POST /api/rendered-charts/{id}/complete", s.handleCompleteRenderedChart)
	mux.HandleFunc("POST /api/renders/{id}/complete", s.handleCompleteRender)
	mux.HandleFunc("POST /api/plans/{id}/status", s.handleUpdatePlanStatus)
	mux.HandleFunc("PUT /api/plans/{id}/description", s.handleSetPlanDescription)
	mux.HandleFunc("PUT /api/plans/{id}/action-files", s.handleUpsertActionFile)
	mux.HandleFunc("PUT /api/workspaces/{id}/messages/{chatId}/response", s.handleSetChatResponse)
	mux.HandleFunc("PUT /api/workspaces/{id}/messages/{chatId}/followups", s.handleSetFollowups)

	mux.HandleFunc("GET /api/realtime/token", s.handleChannelToken)
	mux.HandleFunc("GET /api/realtime/replay", s.handleReplay)
	mux.HandleFunc("GET /api/realtime/ws", hub.ServeWS)

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Listen binds the server to addr. Call Serve to start handling requests.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve starts handling HTTP requests. Blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("helmforge listening", "addr", s.addr)

	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	s.logger.Info("helmforge stopped")
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to status codes. Causes of 5xx responses
// are logged, never sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{err.Error()})
	case errors.Is(err, db.ErrPrecondition),
		errors.Is(err, db.ErrAlreadyDispatched),
		errors.Is(err, db.ErrRevisionConflict):
		writeJSON(w, http.StatusConflict, errorBody{err.Error()})
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{"Internal Server Error"})
	}
}

var errBadRequest = errors.New("bad request")

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %v", errBadRequest, err)
	}
	return nil
}

// requireUser returns the acting user, writing 401 when it is missing.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{"missing " + userHeader + " header"})
		return "", false
	}
	return userID, true
}
