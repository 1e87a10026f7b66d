package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/export"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: promhttp.Handler()}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "workspaces":
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body CreateWorkspaceInput
			if !readBody(w, r, &body) {
				return
			}
			ws, err := s.service.CreateWorkspace(r.Context(), body)
			respond(w, http.StatusCreated, ws, err)
			return
		}
	case "boards":
		if len(parts) == 2 {
			if r.Method == http.MethodPost {
				var body CreateBoardInput
				if !readBody(w, r, &body) {
					return
				}
				b, err := s.service.CreateBoard(r.Context(), body)
				respond(w, http.StatusCreated, b, err)
				return
			}
			break
		}
		id, ok := pathID(w, parts[2])
		if !ok {
			return
		}
		s.handleBoards(w, r, id, parts[3:])
		return
	case "columns":
		if len(parts) == 3 {
			if id, ok := pathID(w, parts[2]); ok {
				s.handleColumn(w, r, id)
			}
			return
		}
	case "groups":
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if id, ok := pathID(w, parts[2]); ok {
				respondOK(w, s.service.DeleteGroup(r.Context(), id))
			}
			return
		}
	case "items":
		if len(parts) >= 3 {
			if id, ok := pathID(w, parts[2]); ok {
				s.handleItems(w, r, id, parts[3:])
			}
			return
		}
	case "subitems":
		if len(parts) >= 3 {
			if id, ok := pathID(w, parts[2]); ok {
				s.handleSubItems(w, r, id, parts[3:])
			}
			return
		}
	case "dependencies":
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body AddDependencyInput
			if !readBody(w, r, &body) {
				return
			}
			dep, err := s.service.AddDependency(r.Context(), body)
			respond(w, http.StatusCreated, dep, err)
			return
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if id, ok := pathID(w, parts[2]); ok {
				respondOK(w, s.service.RemoveDependency(r.Context(), id))
			}
			return
		}
	case "views":
		if len(parts) >= 3 {
			if id, ok := pathID(w, parts[2]); ok {
				s.handleViews(w, r, id, parts[3:])
			}
			return
		}
	case "activity":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleActivity(w, r)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleBoards(w http.ResponseWriter, r *http.Request, boardID int64, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			snap, err := s.service.GetBoard(ctx, boardID)
			respond(w, http.StatusOK, snap, err)
		case http.MethodPatch:
			var body UpdateBoardInput
			if !readBody(w, r, &body) {
				return
			}
			b, err := s.service.UpdateBoard(ctx, boardID, body)
			respond(w, http.StatusOK, b, err)
		case http.MethodDelete:
			respondOK(w, s.service.DeleteBoard(ctx, boardID))
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "columns" && r.Method == http.MethodPost:
		var body CreateColumnInput
		if !readBody(w, r, &body) {
			return
		}
		col, err := s.service.CreateColumn(ctx, boardID, body)
		respond(w, http.StatusCreated, col, err)
	case len(rest) == 1 && rest[0] == "groups" && r.Method == http.MethodPost:
		var body CreateGroupInput
		if !readBody(w, r, &body) {
			return
		}
		g, err := s.service.CreateGroup(ctx, boardID, body)
		respond(w, http.StatusCreated, g, err)
	case len(rest) == 1 && rest[0] == "items" && r.Method == http.MethodPost:
		var body CreateItemInput
		if !readBody(w, r, &body) {
			return
		}
		row, err := s.service.CreateItem(ctx, boardID, body)
		respond(w, http.StatusCreated, row, err)
	case len(rest) == 1 && rest[0] == "views" && r.Method == http.MethodPost:
		var body SaveViewInput
		if !readBody(w, r, &body) {
			return
		}
		v, err := s.service.SaveView(ctx, boardID, body)
		respond(w, http.StatusCreated, v, err)
	case len(rest) == 1 && rest[0] == "views" && r.Method == http.MethodGet:
		views, err := s.service.ListViews(ctx, boardID)
		respond(w, http.StatusOK, map[string]any{"views": views}, err)
	case len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet:
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		resp, err := s.service.Search(ctx, boardID, q, limit, offset)
		respond(w, http.StatusOK, resp, err)
	case len(rest) == 2 && rest[0] == "schema" && rest[1] == "history" && r.Method == http.MethodGet:
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		payload, err := s.service.SchemaHistory(ctx, boardID, limit)
		respond(w, http.StatusOK, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleColumn(w http.ResponseWriter, r *http.Request, columnID int64) {
	switch r.Method {
	case http.MethodPatch:
		var body UpdateColumnInput
		if !readBody(w, r, &body) {
			return
		}
		col, err := s.service.UpdateColumn(r.Context(), columnID, body)
		respond(w, http.StatusOK, col, err)
	case http.MethodDelete:
		respondOK(w, s.service.DeleteColumn(r.Context(), columnID))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, itemID int64, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			it, err := s.service.GetItem(ctx, itemID)
			respond(w, http.StatusOK, it, err)
		case http.MethodPatch:
			var body UpdateItemInput
			if !readBody(w, r, &body) {
				return
			}
			it, err := s.service.UpdateItem(ctx, itemID, body)
			respond(w, http.StatusOK, it, err)
		case http.MethodDelete:
			respondOK(w, s.service.DeleteItem(ctx, itemID))
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case len(rest) == 2 && rest[0] == "cells" && r.Method == http.MethodPut:
		columnID, ok := pathID(w, rest[1])
		if !ok {
			return
		}
		var body SetCellInput
		if !readBody(w, r, &body) {
			return
		}
		cell, err := s.service.SetItemCell(ctx, itemID, columnID, body)
		respond(w, http.StatusOK, cell, err)
	case len(rest) == 1 && rest[0] == "dependencies" && r.Method == http.MethodGet:
		deps, err := s.service.ListDependencies(ctx, itemID)
		respond(w, http.StatusOK, map[string]any{"dependencies": deps}, err)
	case len(rest) == 1 && rest[0] == "can-complete" && r.Method == http.MethodGet:
		payload, err := s.service.CanComplete(ctx, itemID)
		respond(w, http.StatusOK, payload, err)
	case len(rest) == 1 && rest[0] == "subitems" && r.Method == http.MethodPost:
		var body CreateSubItemInput
		if !readBody(w, r, &body) {
			return
		}
		sub, err := s.service.CreateSubItem(ctx, itemID, body)
		respond(w, http.StatusCreated, sub, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSubItems(w http.ResponseWriter, r *http.Request, subItemID int64, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodDelete:
		respondOK(w, s.service.DeleteSubItem(r.Context(), subItemID))
	case len(rest) == 2 && rest[0] == "cells" && r.Method == http.MethodPut:
		columnID, ok := pathID(w, rest[1])
		if !ok {
			return
		}
		var body SetCellInput
		if !readBody(w, r, &body) {
			return
		}
		cell, err := s.service.SetSubItemCell(r.Context(), subItemID, columnID, body)
		respond(w, http.StatusOK, cell, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleViews(w http.ResponseWriter, r *http.Request, viewID int64, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			v, err := s.service.GetView(ctx, viewID)
			respond(w, http.StatusOK, v, err)
		case http.MethodPatch:
			var body UpdateViewInput
			if !readBody(w, r, &body) {
				return
			}
			v, err := s.service.UpdateView(ctx, viewID, body)
			respond(w, http.StatusOK, v, err)
		case http.MethodDelete:
			respondOK(w, s.service.DeleteView(ctx, viewID))
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "rows" && r.Method == http.MethodGet:
		payload, err := s.service.ViewRows(ctx, viewID)
		respond(w, http.StatusOK, payload, err)
	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, viewID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, viewID int64) {
	query := r.URL.Query()
	format, err := export.ParseFormat(strings.TrimSpace(query.Get("format")))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	stored := false
	if raw := strings.TrimSpace(query.Get("store")); raw != "" {
		stored, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "store must be a boolean", nil)
			return
		}
	}

	result, err := s.service.ExportView(r.Context(), export.Request{ViewID: viewID, Format: format, Store: stored})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if stored {
		writeJSON(w, http.StatusOK, map[string]any{
			"filename":  result.Filename,
			"objectKey": result.ObjectKey,
			"url":       result.URL,
		})
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	boardID, ok := queryInt(w, r, "boardId", 0)
	if !ok {
		return
	}
	after, ok := queryInt(w, r, "after", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}
	payload, err := s.service.Activity(r.Context(), int64(boardID), int64(after), limit)
	respond(w, http.StatusOK, payload, err)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func respondOK(w http.ResponseWriter, err error) {
	respond(w, http.StatusOK, map[string]any{"ok": true}, err)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
