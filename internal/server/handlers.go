package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/diff"
	"github.com/esnunes/helmforge/internal/engine"
	"github.com/esnunes/helmforge/internal/models"
)

// Workspaces

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createWorkspaceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, r, fmt.Errorf("name is required: %w", engine.ErrInvalidInput))
		return
	}

	ws, err := s.queries.CreateWorkspace(r.Context(), req.Name, userID, "manual")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.queries.GetWorkspace(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	revs, err := s.queries.ListRevisions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

type setFileContentRequest struct {
	Content string `json:"content"`
}

func revisionParam(r *http.Request) (int, error) {
	rev, err := strconv.Atoi(r.PathValue("rev"))
	if err != nil || rev < 0 {
		return 0, fmt.Errorf("revision %q: %w", r.PathValue("rev"), errBadRequest)
	}
	return rev, nil
}

func (s *Server) handleSetFileContent(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	rev, err := revisionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setFileContentRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetFileContent(r.Context(), r.PathValue("id"), rev, r.PathValue("fileId"), req.Content); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pendingDiffResponse struct {
	FileID    string      `json:"fileId"`
	FilePath  string      `json:"filePath"`
	Pending   bool        `json:"pending"`
	Truncated bool        `json:"truncated"`
	Hunks     []diff.Hunk `json:"hunks"`
}

// handlePendingDiff shows what accepting a file's pending content would
// change.
func (s *Server) handlePendingDiff(w http.ResponseWriter, r *http.Request) {
	rev, err := revisionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.queries.GetFile(r.Context(), r.PathValue("id"), rev, r.PathValue("fileId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := pendingDiffResponse{FileID: f.ID, FilePath: f.FilePath, Hunks: []diff.Hunk{}}
	if f.ContentPending != nil {
		resp.Pending = true
		if hunks, truncated := diff.Hunks(f.Content, *f.ContentPending); truncated {
			resp.Truncated = true
		} else if hunks != nil {
			resp.Hunks = hunks
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAcceptPending(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	rev, err := revisionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.AcceptPendingContent(r.Context(), r.PathValue("id"), rev, r.PathValue("fileId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rollbackRequest struct {
	RevisionNumber *int   `json:"revisionNumber"`
	ChatMessageID  string `json:"chatMessageId"`
}

type rollbackResponse struct {
	Changed bool `json:"changed"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req rollbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RevisionNumber == nil {
		s.writeError(w, r, fmt.Errorf("revisionNumber is required: %w", engine.ErrInvalidInput))
		return
	}

	changed, err := s.engine.RollbackToRevision(r.Context(), r.PathValue("id"), *req.RevisionNumber, req.ChatMessageID, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rollbackResponse{Changed: changed})
}

type renderRequest struct {
	RevisionNumber *int   `json:"revisionNumber"`
	ChartID        string `json:"chartId"`
	ChatMessageID  string `json:"chatMessageId"`
	IsAutorender   bool   `json:"isAutorender"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req renderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rendered, err := s.engine.RenderWorkspace(r.Context(), engine.RenderRequest{
		WorkspaceID:    r.PathValue("id"),
		ChatMessageID:  req.ChatMessageID,
		RevisionNumber: req.RevisionNumber,
		ChartID:        req.ChartID,
		IsAutorender:   req.IsAutorender,
		UserID:         userID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rendered == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, rendered)
}

func (s *Server) handleListRenders(w http.ResponseWriter, r *http.Request) {
	renders, err := s.queries.ListWorkspaceRenders(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renders)
}

func (s *Server) handleGetRender(w http.ResponseWriter, r *http.Request) {
	rendered, err := s.queries.GetRenderedWorkspace(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rendered)
}

// Chat

type sourceFile struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

type sendMessageRequest struct {
	Prompt            string        `json:"prompt"`
	Intent            models.Intent `json:"intent"`
	SourceFiles       []sourceFile  `json:"sourceFiles"`
	SupersedingPlanID string        `json:"supersedingPlanId"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	files := make([]db.SourceFile, len(req.SourceFiles))
	for i, f := range req.SourceFiles {
		files[i] = db.SourceFile{FilePath: f.FilePath, Content: f.Content}
	}
	chat, err := s.engine.SendChatMessage(r.Context(), engine.SendRequest{
		WorkspaceID:       r.PathValue("id"),
		UserID:            userID,
		Prompt:            req.Prompt,
		KnownIntent:       req.Intent,
		SourceFiles:       files,
		SupersedingPlanID: req.SupersedingPlanID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.queries.ListChatMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCancelMessage(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if err := s.queries.CancelChatMessage(r.Context(), r.PathValue("chatId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyIntent records the classifier's verdict. The classification
// worker calls it after consuming a new_intent work item.
func (s *Server) handleApplyIntent(w http.ResponseWriter, r *http.Request) {
	var flags models.IntentFlags
	if err := decodeBody(w, r, &flags); err != nil {
		s.writeError(w, r, err)
		return
	}
	chat, err := s.engine.ApplyIntent(r.Context(), r.PathValue("chatId"), flags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// Plans and conversions

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.queries.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type proceedResponse struct {
	RevisionNumber int `json:"revisionNumber"`
}

func (s *Server) handleProceedPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	rev, err := s.engine.ProceedPlan(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, proceedResponse{RevisionNumber: rev})
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	conv, err := s.queries.GetConversion(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Realtime

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleChannelToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	token, expiresAt, err := s.gateway.ChannelToken(userID)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	events, err := s.gateway.ListReplayableEvents(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
