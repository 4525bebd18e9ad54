package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"casegen-service/internal/outline"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxUploadSize = 32 << 20

// Server is the thin HTTP surface over the App facade
type Server struct {
	app    *App
	logger *zap.Logger
	router chi.Router
}

// NewServer builds the route table
func NewServer(app *App, logger *zap.Logger) *Server {
	s := &Server{app: app, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/outline/generate", s.handleGenerateOutline)
	r.Post("/api/outline/parse", s.handleParseOutline)
	r.Get("/api/outline/versions", s.handleListVersions)
	r.Post("/api/cases/preview", s.handlePreview)
	r.Post("/api/cases/confirm", s.handleConfirm)
	r.Post("/api/cases/generate", s.handleGenerate)
	r.Get("/api/cases/tasks/{taskID}", s.handleGetTask)
	r.Get("/api/cases/tasks/{taskID}/export", s.handleExportCaseTree)
	r.Post("/api/credentials", s.handleSaveCredential)

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerateOutline(w http.ResponseWriter, r *http.Request) {
	var doc outline.RequirementDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	data, err := s.app.GenerateOutline(&doc)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeContainerDownload(w, "outline.xmind", data)
}

func (s *Server) handleParseOutline(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := s.app.ParseOutline(data)
	if err != nil {
		var malformed *outline.MalformedContainerError
		if errors.As(err, &malformed) {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("requirement_name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("requirement_name is required"))
		return
	}
	records, err := s.app.ListVersions(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParseID string `json:"parse_id"`
		Count   int    `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	result, err := s.app.GeneratePreview(r.Context(), req.ParseID, req.Count)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PreviewID string `json:"preview_id"`
		Strategy  string `json:"strategy"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	taskID, sessionID, cases, err := s.app.ConfirmPreview(req.PreviewID, req.Strategy, req.SessionID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id":    taskID,
		"session_id": sessionID,
		"cases":      cases,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParseID   string `json:"parse_id"`
		Strategy  string `json:"strategy"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	taskID, sessionID, err := s.app.StartGeneration(req.ParseID, req.Strategy, req.SessionID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id":    taskID,
		"session_id": sessionID,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	snapshot, ok := s.app.GetTask(taskID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("task %s not found", taskID))
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleExportCaseTree(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	data, err := s.app.ExportCaseTree(taskID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeContainerDownload(w, "cases.xmind", data)
}

func (s *Server) handleSaveCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
		Model   string `json:"model"`
		APIKey  string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.APIKey == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("api_key is required"))
		return
	}
	if err := s.app.SaveCredential(req.Name, req.BaseURL, req.Model, req.APIKey); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// readUpload accepts either a multipart "file" field or a raw body
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err == nil {
		file, _, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			return io.ReadAll(io.LimitReader(file, maxUploadSize))
		}
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	return data, nil
}

func writeContainerDownload(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
