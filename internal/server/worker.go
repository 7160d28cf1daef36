package server

import (
	"fmt"
	"net/http"

	"github.com/esnunes/helmforge/internal/engine"
	"github.com/esnunes/helmforge/internal/models"
)

// Worker callbacks. Out-of-process workers fetch the work items they were
// notified about and write their results back through these routes.

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		s.writeError(w, r, fmt.Errorf("channel is required: %w", engine.ErrInvalidInput))
		return
	}
	items, err := s.queries.ListWorkItems(r.Context(), channel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.queries.GetWorkItem(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleAdvanceConversion(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.AdvanceConversionStatus(r.Context(), r.PathValue("id"), models.ConversionStatus(req.Status)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdvanceConversionFile(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.AdvanceConversionFileStatus(r.Context(), r.PathValue("fileId"), models.ConversionFileStatus(req.Status)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type convertedFilesRequest struct {
	ConvertedFiles map[string]string `json:"convertedFiles"`
}

func (s *Server) handleSetConvertedFiles(w http.ResponseWriter, r *http.Request) {
	var req convertedFilesRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ConvertedFiles == nil {
		req.ConvertedFiles = map[string]string{}
	}
	if err := s.queries.SetConvertedFiles(r.Context(), r.PathValue("fileId"), req.ConvertedFiles); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteRevision(w http.ResponseWriter, r *http.Request) {
	rev, err := revisionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.MarkRevisionComplete(r.Context(), r.PathValue("id"), rev); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addChartRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddChart(w http.ResponseWriter, r *http.Request) {
	rev, err := revisionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addChartRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, r, fmt.Errorf("name is required: %w", engine.ErrInvalidInput))
		return
	}
	chart, err := s.queries.AddChart(r.Context(), r.PathValue("id"), rev, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chart)
}

type addFileRequest struct {
	ChartID  *string `json:"chartId"`
	FilePath string  `json:"filePath"`
	Content  string  `json:"content"`
}

func (s *Server) handleAddFile(w http.ResponseWriter, r *http.Request) {
	rev, err := revisionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addFileRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.FilePath == "" {
		s.writeError(w, r, fmt.Errorf("filePath is required: %w", engine.ErrInvalidInput))
		return
	}
	f, err := s.queries.AddFile(r.Context(), r.PathValue("id"), rev, req.ChartID, req.FilePath, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleSetPendingContent(w http.ResponseWriter, r *http.Request) {
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
	if err := s.queries.SetFilePendingContent(r.Context(), r.PathValue("id"), rev, r.PathValue("fileId"), req.Content); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCompleteRenderedChart takes the chart's command output and
// rendered files; ids in the body are ignored.
func (s *Server) handleCompleteRenderedChart(w http.ResponseWriter, r *http.Request) {
	var result models.RenderedChart
	if err := decodeBody(w, r, &result); err != nil {
		s.writeError(w, r, err)
		return
	}
	result.ID = r.PathValue("id")
	if err := s.queries.CompleteRenderedChart(r.Context(), result); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteRender(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.CompleteRenderedWorkspace(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.UpdatePlanStatus(r.Context(), r.PathValue("id"), models.PlanStatus(req.Status)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type planDescriptionRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleSetPlanDescription(w http.ResponseWriter, r *http.Request) {
	var req planDescriptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.SetPlanDescription(r.Context(), r.PathValue("id"), req.Description); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertActionFile(w http.ResponseWriter, r *http.Request) {
	var af models.ActionFile
	if err := decodeBody(w, r, &af); err != nil {
		s.writeError(w, r, err)
		return
	}
	if af.Path == "" {
		s.writeError(w, r, fmt.Errorf("path is required: %w", engine.ErrInvalidInput))
		return
	}
	if _, err := s.queries.GetPlan(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.UpsertPlanActionFile(r.Context(), r.PathValue("id"), af); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatResponseRequest struct {
	Response string `json:"response"`
}

func (s *Server) handleSetChatResponse(w http.ResponseWriter, r *http.Request) {
	var req chatResponseRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.SetChatResponse(r.Context(), r.PathValue("chatId"), req.Response); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetFollowups(w http.ResponseWriter, r *http.Request) {
	var actions []models.FollowupAction
	if err := decodeBody(w, r, &actions); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.queries.SetFollowupActions(r.Context(), r.PathValue("chatId"), actions); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
