package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawsync"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/search"
	"github.com/timeers/root-website-sub000/internal/store"
	"github.com/timeers/root-website-sub000/internal/util"
)

const maxRulesUpload = 4 << 20

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	metrics        *httpMetrics
	metricsHandler http.Handler
}

// NewHTTPServer builds the JSON API. registry backs /metrics; nil gets a
// private registry.
func NewHTTPServer(service *Service, corsOrigin string, registry *prometheus.Registry) *HTTPServer {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &HTTPServer{
		service:        service,
		corsOrigin:     corsOrigin,
		metrics:        newHTTPMetrics(registry),
		metricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) actor(r *http.Request) rbac.Actor {
	return s.service.Actor(r.Header.Get("X-Actor-ID"), r.Header.Get("X-Actor-Role"), r.Header.Get("X-Admin-Token"))
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

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metricsHandler.ServeHTTP(w, r)
		return
	}

	actor := s.actor(r)

	if r.Method == http.MethodGet && r.URL.Path == "/api/languages" {
		languages, err := s.service.ListLanguages(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(languages))
		for _, language := range languages {
			items = append(items, map[string]any{"id": language.ID, "code": language.Code, "locale": language.Locale, "name": language.Name})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/search/reindex" {
		n, err := s.service.Reindex(r.Context(), actor)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"indexed": n})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "groups":
		s.routeGroups(w, r, actor, parts)
	case "laws":
		s.routeLaws(w, r, actor, parts)
	case "rules":
		s.routeRules(w, r, actor, parts)
	case "rules-files":
		s.routeRulesFiles(w, r, actor, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{Text: strings.TrimSpace(query.Get("q"))}
	var err error
	if q.Limit, err = queryInt(query.Get("limit"), 20); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset, err = queryInt(query.Get("offset"), 0); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
		return
	}
	if raw := strings.TrimSpace(query.Get("groupId")); raw != "" {
		if q.GroupID, err = parseID(raw); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "groupId must be an integer", nil)
			return
		}
	}
	if code := strings.TrimSpace(query.Get("language")); code != "" {
		language, err := s.service.Language(r.Context(), code)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		q.LanguageID = language.ID
	}
	if q.Text == "" {
		writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: ""})
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

func (s *HTTPServer) routeGroups(w http.ResponseWriter, r *http.Request, actor rbac.Actor, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			groups, err := s.service.ListGroups(r.Context(), actor, store.GroupType(r.URL.Query().Get("type")))
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": toGroupViews(groups)})
		case http.MethodPost:
			var body laws.CreateGroupInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			group, err := s.service.CreateGroup(r.Context(), actor, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, toGroupView(group))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	groupID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			group, err := s.service.GetGroup(r.Context(), actor, groupID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toGroupView(group))
		case http.MethodPut:
			var body laws.UpdateGroupInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			group, err := s.service.UpdateGroup(r.Context(), actor, groupID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toGroupView(group))
		case http.MethodDelete:
			if err := s.service.DeleteGroup(r.Context(), actor, groupID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost && (parts[3] == "move-up" || parts[3] == "move-down") {
		group, err := s.service.MoveGroup(r.Context(), actor, groupID, parts[3] == "move-up")
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGroupView(group))
		return
	}

	if len(parts) >= 5 && parts[3] == "laws" {
		s.routeGroupLaws(w, r, actor, groupID, parts[4], parts[5:])
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) routeGroupLaws(w http.ResponseWriter, r *http.Request, actor rbac.Actor, groupID int64, languageCode string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		tree, err := s.service.GroupLaws(ctx, actor, groupID, languageCode)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": toLawViews(tree)})
	case len(rest) == 0 && r.Method == http.MethodDelete:
		removed, err := s.service.WipeGroupLanguage(ctx, actor, groupID, languageCode)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": nonNilIDs(removed)})
	case len(rest) == 1 && rest[0] == "init" && r.Method == http.MethodPost:
		created, err := s.service.InitializeGroup(ctx, actor, groupID, languageCode)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": toLawViews(created)})
	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		includeIDs, _ := strconv.ParseBool(r.URL.Query().Get("ids"))
		data, err := s.service.ExportGroup(ctx, actor, groupID, languageCode, includeIDs)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeYAML(w, data)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) routeLaws(w http.ResponseWriter, r *http.Request, actor rbac.Actor, parts []string) {
	ctx := r.Context()
	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body laws.CreateLawInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		law, err := s.service.CreateLaw(ctx, actor, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toLawView(law))
		return
	}

	lawID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			law, cited, err := s.service.GetLaw(ctx, lawID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"law": toLawView(law), "references": toLawViews(cited)})
		case http.MethodPut:
			var body laws.UpdateLawInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			law, err := s.service.UpdateLaw(ctx, actor, lawID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toLawView(law))
		case http.MethodDelete:
			removed, err := s.service.DeleteLaw(ctx, actor, lawID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"removed": nonNilIDs(removed)})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		var body struct {
			PrevID *int64 `json:"prevId"`
			NextID *int64 `json:"nextId"`
		}
		if parts[3] == "move" {
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
		}
		law, err := s.service.MoveLaw(ctx, actor, lawID, parts[3], body.PrevID, body.NextID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toLawView(law))
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) routeRules(w http.ResponseWriter, r *http.Request, actor rbac.Actor, parts []string) {
	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet {
		includeIDs, _ := strconv.ParseBool(r.URL.Query().Get("ids"))
		data, err := s.service.ExportLanguage(r.Context(), parts[2], includeIDs)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeYAML(w, data)
		return
	}
	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	languageCode := parts[2]
	switch parts[3] {
	case "upload":
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRulesUpload+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		if len(data) > maxRulesUpload {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Rules document is too large", nil)
			return
		}
		file, report, err := s.service.UploadRules(r.Context(), actor, languageCode, data)
		writeApplyResult(w, file, report, err)
	case "sync":
		fetched, err := s.service.SyncRules(r.Context(), actor, languageCode)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fetched": fetched})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) routeRulesFiles(w http.ResponseWriter, r *http.Request, actor rbac.Actor, parts []string) {
	ctx := r.Context()
	if len(parts) == 2 && r.Method == http.MethodGet {
		query := r.URL.Query()
		files, err := s.service.ListRulesFiles(ctx, strings.TrimSpace(query.Get("language")), store.RulesFileStatus(query.Get("status")))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]rulesFileView, 0, len(files))
		for _, file := range files {
			items = append(items, toRulesFileView(file))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	fileID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch parts[3] {
	case "apply":
		file, report, err := s.service.ApplyRulesFile(ctx, actor, fileID)
		writeApplyResult(w, file, report, err)
	case "ignore":
		file, err := s.service.IgnoreRulesFile(ctx, actor, fileID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRulesFileView(file))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// writeApplyResult reports a rejected reconciliation as 409 with the report
// attached so the caller can see every mismatch.
func writeApplyResult(w http.ResponseWriter, file store.RulesFile, report lawsync.Report, err error) {
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if !report.Applied {
		writeError(w, http.StatusConflict, "RULES_NOT_APPLIED", "Rules document does not match the stored laws", map[string]any{
			"file":   toRulesFileView(file),
			"report": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": toRulesFileView(file), "report": report})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.metrics.observe(r.Method, writer.status, elapsed.Seconds())
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			elapsed.Milliseconds(),
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-ID, X-Actor-Role, X-Admin-Token, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeYAML(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
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
		log.Printf("api: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
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

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
