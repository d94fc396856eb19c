package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"panelbank/api/internal/librarypanels"
	"panelbank/api/internal/search"
	"panelbank/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	actor := actorFromRequest(r)

	switch parts[1] {
	case "dashboards":
		s.handleDashboards(w, r, actor, parts[2:])
	case "library-panels":
		s.handleLibraryPanels(w, r, actor, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDashboards(w http.ResponseWriter, r *http.Request, actor store.Actor, rest []string) {
	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		var body DashboardInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		saved, err := s.service.SaveDashboard(r.Context(), actor, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dashboardJSON(saved))

	case r.Method == http.MethodGet && len(rest) == 1:
		dash, err := s.service.GetDashboard(r.Context(), actor, rest[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dashboardJSON(dash))

	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := s.service.DeleteDashboard(r.Context(), actor, rest[0]); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLibraryPanels(w http.ResponseWriter, r *http.Request, actor store.Actor, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		response, err := s.service.SearchLibraryPanels(r.Context(), actor, searchQueryFromRequest(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)

	case r.Method == http.MethodPost && len(rest) == 0:
		var body LibraryPanelInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		panel, err := s.service.CreateLibraryPanel(r.Context(), actor, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, panelJSON(panel))

	case r.Method == http.MethodGet && len(rest) == 1:
		panel, err := s.service.GetLibraryPanel(r.Context(), actor, rest[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, panelJSON(panel))

	case r.Method == http.MethodPatch && len(rest) == 1:
		var body LibraryPanelInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		panel, err := s.service.UpdateLibraryPanel(r.Context(), actor, rest[0], body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, panelJSON(panel))

	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := s.service.DeleteLibraryPanel(r.Context(), actor, rest[0]); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "connections":
		connections, err := s.service.ListConnections(r.Context(), actor, rest[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(connections))
		for _, connection := range connections {
			items = append(items, map[string]any{
				"id":          connection.ID,
				"dashboardId": connection.DashboardID,
				"created":     connection.Created,
				"createdBy":   connection.CreatedBy,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"connections": items})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Org-ID, X-User-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// actorFromRequest reads the identity the upstream gateway attaches.
// Authentication itself happens before requests reach this service.
func actorFromRequest(r *http.Request) store.Actor {
	actor := store.Actor{OrgID: 1}
	if orgID, err := strconv.ParseInt(r.Header.Get("X-Org-ID"), 10, 64); err == nil && orgID > 0 {
		actor.OrgID = orgID
	}
	if userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64); err == nil && userID > 0 {
		actor.UserID = userID
	}
	return actor
}

func searchQueryFromRequest(r *http.Request) search.Query {
	values := r.URL.Query()
	q := search.Query{Text: values.Get("query")}
	if folderID, err := strconv.ParseInt(values.Get("folderId"), 10, 64); err == nil {
		q.FolderID = folderID
	}
	if limit, err := strconv.Atoi(values.Get("limit")); err == nil {
		q.Limit = limit
	}
	if offset, err := strconv.Atoi(values.Get("offset")); err == nil {
		q.Offset = offset
	}
	return q
}

func dashboardJSON(dash store.Dashboard) map[string]any {
	return map[string]any{
		"id":        dash.ID,
		"orgId":     dash.OrgID,
		"uid":       dash.UID,
		"title":     dash.Title,
		"dashboard": dash.Data,
		"updated":   dash.Updated,
	}
}

func panelJSON(panel store.LibraryPanel) map[string]any {
	return map[string]any{
		"id":        panel.ID,
		"orgId":     panel.OrgID,
		"folderId":  panel.FolderID,
		"uid":       panel.UID,
		"name":      panel.Name,
		"model":     panel.Model,
		"created":   panel.Created,
		"createdBy": panel.CreatedBy,
		"updated":   panel.Updated,
		"updatedBy": panel.UpdatedBy,
	}
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

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// mapError translates service errors to the HTTP surface. Reference
// inconsistencies abort the whole request; no partial document is served.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.Is(err, librarypanels.ErrMalformedReference):
		return http.StatusUnprocessableEntity, "MALFORMED_REFERENCE", err.Error(), nil
	case errors.Is(err, librarypanels.ErrDanglingReference):
		return http.StatusUnprocessableEntity, "DANGLING_REFERENCE", err.Error(), nil
	case errors.Is(err, librarypanels.ErrDashboardMissingIdentity):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, store.ErrDashboardNotFound), errors.Is(err, store.ErrLibraryPanelNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, store.ErrLibraryPanelExists), errors.Is(err, store.ErrLibraryPanelHasConnections):
		return http.StatusConflict, "CONFLICT", err.Error(), nil
	default:
		return http.StatusInternalServerError, "STORE_ERROR", "Internal error", nil
	}
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
