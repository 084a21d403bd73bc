package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timeers/root-website-sub000/internal/blobstore"
	"github.com/timeers/root-website-sub000/internal/config"
	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawsync"
	"github.com/timeers/root-website-sub000/internal/lawyaml"
	"github.com/timeers/root-website-sub000/internal/store"
)

const adminToken = "test-admin-token"

// pingRepo lets tests fail the readiness check.
type pingRepo struct {
	store.Repository
	pingFn func(context.Context) error
}

func (p *pingRepo) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

type testServer struct {
	handler http.Handler
	repo    *store.MemoryStore
	service *Service
}

func newTestServer(t *testing.T, pingFn func(context.Context) error) *testServer {
	t.Helper()
	repo := store.NewMemoryStore()
	lawService := laws.New(repo, nil)
	syncService := lawsync.New(lawsync.Options{BasePath: "rules"}, lawsync.Deps{
		Repo:  repo,
		Blobs: blobstore.NewMemory(),
		Logf:  t.Logf,
	})
	svc := NewService(config.Config{AdminToken: adminToken}, Deps{
		Repo: &pingRepo{Repository: repo, pingFn: pingFn},
		Laws: lawService,
		Sync: syncService,
	})
	return &testServer{
		handler: NewHTTPServer(svc, "*", nil).Handler(),
		repo:    repo,
		service: svc,
	}
}

type requestOption func(*http.Request)

func asAdmin(r *http.Request) { r.Header.Set("X-Admin-Token", adminToken) }

func asDesigner(id string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("X-Actor-ID", id)
		r.Header.Set("X-Actor-Role", "designer")
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, opt := range opts {
		opt(req)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
	return decodeJSON(t, rr)
}

func items(t *testing.T, payload map[string]any) []map[string]any {
	t.Helper()
	raw, ok := payload["items"].([]any)
	if !ok {
		t.Fatalf("expected items array, got %v", payload["items"])
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		out = append(out, item.(map[string]any))
	}
	return out
}

func id(item map[string]any) int64 {
	return int64(item["id"].(float64))
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := expectStatus(t, srv.do(t, http.MethodGet, "/api/health", ""), http.StatusOK)
	if payload["ok"] != true {
		t.Errorf("expected ok=true, got %v", payload["ok"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantDB     string
	}{
		{name: "healthy database", wantStatus: http.StatusOK, wantDB: "ok"},
		{name: "database down", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantDB: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(context.Context) error { return tt.pingErr })
			payload := expectStatus(t, srv.do(t, http.MethodGet, "/api/ready", ""), tt.wantStatus)
			checks, ok := payload["checks"].(map[string]any)
			if !ok {
				t.Fatalf("expected checks object, got %v", payload["checks"])
			}
			database := checks["database"].(map[string]any)
			if database["status"] != tt.wantDB {
				t.Errorf("database status = %v, want %s", database["status"], tt.wantDB)
			}
			if tt.pingErr != nil && database["error"] != tt.pingErr.Error() {
				t.Errorf("database error = %v", database["error"])
			}
		})
	}
}

func TestOptionsAndCORSHeaders(t *testing.T) {
	srv := newTestServer(t, nil)
	rr := srv.do(t, http.MethodOptions, "/api/laws", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.do(t, http.MethodGet, "/api/health", "")
	rr := srv.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `rootlaws_http_requests_total{method="GET",status="200"} 1`) {
		t.Fatalf("metrics body missing request counter:\n%s", rr.Body.String())
	}
}

func TestGroupAndLawLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	official := `{"title":"Marquise de Cat","type":"Official","public":true,"contentItemId":5,"color":"#D27E35"}`
	payload := expectStatus(t, srv.do(t, http.MethodPost, "/api/groups", official, asDesigner("designer-1")), http.StatusForbidden)
	if payload["code"] != "FORBIDDEN" {
		t.Fatalf("code = %v, want FORBIDDEN", payload["code"])
	}

	group := expectStatus(t, srv.do(t, http.MethodPost, "/api/groups", official, asAdmin), http.StatusCreated)
	groupPath := fmt.Sprintf("/api/groups/%d", id(group))
	if group["slug"] != "marquise-de-cat" {
		t.Fatalf("slug = %v", group["slug"])
	}

	created := items(t, expectStatus(t, srv.do(t, http.MethodPost, groupPath+"/laws/en/init", "", asAdmin), http.StatusCreated))
	if len(created) != 7 || created[0]["primeLaw"] != true || created[4]["title"] != "Birdsong" {
		t.Fatalf("init created %v", created)
	}
	expectStatus(t, srv.do(t, http.MethodPost, groupPath+"/laws/en/init", "", asAdmin), http.StatusConflict)

	tree := items(t, expectStatus(t, srv.do(t, http.MethodGet, groupPath+"/laws/en", ""), http.StatusOK))
	if len(tree) != 7 {
		t.Fatalf("tree has %d laws, want 7", len(tree))
	}

	overview := created[1]
	body := fmt.Sprintf(`{"groupId":%d,"languageId":1,"parentId":%d,"title":"Keep","description":"Place the keep in a corner clearing."}`, id(group), id(overview))
	keep := expectStatus(t, srv.do(t, http.MethodPost, "/api/laws", body, asAdmin), http.StatusCreated)
	if keep["lawCode"] != "1.1" {
		t.Fatalf("keep code = %v, want 1.1", keep["lawCode"])
	}

	birdsong := created[4]
	moved := expectStatus(t, srv.do(t, http.MethodPost, fmt.Sprintf("/api/laws/%d/move-up", id(birdsong)), "", asAdmin), http.StatusOK)
	if moved["lawCode"] != "3" {
		t.Fatalf("moved code = %v, want 3", moved["lawCode"])
	}

	updated := expectStatus(t, srv.do(t, http.MethodPut, fmt.Sprintf("/api/laws/%d", id(keep)), `{"title":"The Keep"}`, asAdmin), http.StatusOK)
	if updated["title"] != "The Keep" || updated["lawCode"] != "1.1" {
		t.Fatalf("updated = %v", updated)
	}

	payload = expectStatus(t, srv.do(t, http.MethodDelete, fmt.Sprintf("/api/laws/%d", id(created[0])), "", asAdmin), http.StatusConflict)
	if payload["code"] != "PRIME_LAW_DELETE" {
		t.Fatalf("code = %v, want PRIME_LAW_DELETE", payload["code"])
	}

	rr := srv.do(t, http.MethodGet, groupPath+"/laws/en/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d (%s)", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/yaml") {
		t.Fatalf("export content type = %q", ct)
	}
	nodes, err := lawyaml.Decode(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode(export) error = %v", err)
	}
	if nodes[0].Name != "Marquise de Cat" || nodes[0].Children[0].Children[0].Name != "The Keep" {
		t.Fatalf("export nodes = %+v", nodes)
	}

	search := expectStatus(t, srv.do(t, http.MethodGet, "/api/search?q=corner+keep&language=en", ""), http.StatusOK)
	if search["total"] != float64(1) {
		t.Fatalf("search = %v, want one hit", search)
	}

	removed := expectStatus(t, srv.do(t, http.MethodDelete, fmt.Sprintf("/api/laws/%d", id(overview)), "", asAdmin), http.StatusOK)
	if got := removed["removed"].([]any); len(got) != 2 {
		t.Fatalf("removed = %v, want overview and keep", got)
	}

	expectStatus(t, srv.do(t, http.MethodDelete, groupPath, "", asAdmin), http.StatusOK)
	expectStatus(t, srv.do(t, http.MethodGet, groupPath, ""), http.StatusNotFound)
}

func TestDesignerEditsOwnFanGroup(t *testing.T) {
	srv := newTestServer(t, nil)
	fan := `{"title":"Keepers in Iron","type":"Fan","public":true,"contentItemId":9,"designerId":"designer-1"}`

	expectStatus(t, srv.do(t, http.MethodPost, "/api/groups", fan, asDesigner("designer-2")), http.StatusForbidden)
	group := expectStatus(t, srv.do(t, http.MethodPost, "/api/groups", fan, asDesigner("designer-1")), http.StatusCreated)

	path := fmt.Sprintf("/api/groups/%d/laws/en/init", id(group))
	expectStatus(t, srv.do(t, http.MethodPost, path, "", asDesigner("designer-2")), http.StatusForbidden)
	created := items(t, expectStatus(t, srv.do(t, http.MethodPost, path, "", asDesigner("designer-1")), http.StatusCreated))
	if len(created) != 7 {
		t.Fatalf("init created %d laws, want 7", len(created))
	}
}

func TestUnknownLanguage(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := expectStatus(t, srv.do(t, http.MethodGet, "/api/rules/xx/export", ""), http.StatusNotFound)
	if payload["code"] != "UNKNOWN_LANGUAGE" {
		t.Fatalf("code = %v, want UNKNOWN_LANGUAGE", payload["code"])
	}
}

func TestRulesUploadAppliesAndRejectsMismatch(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	admin := srv.service.Actor("admin", "", adminToken)
	item := int64(5)
	group, err := srv.service.CreateGroup(ctx, admin, laws.CreateGroupInput{Title: "Marquise de Cat", Type: "Official", Public: true, ContentItemID: &item, Color: "#D27E35"})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	created, err := srv.service.InitializeGroup(ctx, admin, group.ID, "en")
	if err != nil {
		t.Fatalf("InitializeGroup() error = %v", err)
	}

	rr := srv.do(t, http.MethodGet, "/api/rules/en/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d (%s)", rr.Code, rr.Body.String())
	}
	nodes, err := lawyaml.Decode(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	nodes[0].Children[0].Pretext = "Rule the woods."
	doc, err := lawyaml.Encode(nodes)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	expectStatus(t, srv.do(t, http.MethodPost, "/api/rules/en/upload", string(doc), asDesigner("designer-1")), http.StatusForbidden)

	payload := expectStatus(t, srv.do(t, http.MethodPost, "/api/rules/en/upload", string(doc), asAdmin), http.StatusOK)
	report := payload["report"].(map[string]any)
	if report["applied"] != true || report["updatedLaws"] != float64(1) {
		t.Fatalf("report = %v", report)
	}
	law := expectStatus(t, srv.do(t, http.MethodGet, fmt.Sprintf("/api/laws/%d", created[1].ID), ""), http.StatusOK)
	if got := law["law"].(map[string]any)["description"]; got != "Rule the woods." {
		t.Fatalf("overview description = %v", got)
	}

	files := items(t, expectStatus(t, srv.do(t, http.MethodGet, "/api/rules-files?language=en", ""), http.StatusOK))
	if len(files) != 1 || files[0]["status"] != "Active" || files[0]["version"] != lawsync.UploadVersion {
		t.Fatalf("rules files = %v", files)
	}

	nodes[0].Children[0].Children = []lawyaml.Node{{Name: "Extra", Text: "Not stored."}}
	nodes[0].Children[1].Pretext = "Changed."
	doc, err = lawyaml.Encode(nodes)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	payload = expectStatus(t, srv.do(t, http.MethodPost, "/api/rules/en/upload", string(doc), asAdmin), http.StatusConflict)
	if payload["code"] != "RULES_NOT_APPLIED" {
		t.Fatalf("code = %v, want RULES_NOT_APPLIED", payload["code"])
	}
	details := payload["details"].(map[string]any)
	mismatches := details["report"].(map[string]any)["mismatches"].(map[string]any)
	if _, ok := mismatches["Marquise de Cat"]; !ok {
		t.Fatalf("mismatches = %v", mismatches)
	}
	unchanged := expectStatus(t, srv.do(t, http.MethodGet, fmt.Sprintf("/api/laws/%d", created[2].ID), ""), http.StatusOK)
	if got := unchanged["law"].(map[string]any)["description"]; got != "" {
		t.Fatalf("rejected upload wrote %q", got)
	}

	rejected := id(items(t, expectStatus(t, srv.do(t, http.MethodGet, "/api/rules-files?status=New", ""), http.StatusOK))[0])
	ignored := expectStatus(t, srv.do(t, http.MethodPost, fmt.Sprintf("/api/rules-files/%d/ignore", rejected), "", asAdmin), http.StatusOK)
	if ignored["status"] != "Archive" {
		t.Fatalf("ignored = %v", ignored)
	}
	payload = expectStatus(t, srv.do(t, http.MethodPost, fmt.Sprintf("/api/rules-files/%d/apply", rejected), "", asAdmin), http.StatusConflict)
	if payload["code"] != "RULES_FILE_ARCHIVED" {
		t.Fatalf("code = %v, want RULES_FILE_ARCHIVED", payload["code"])
	}

	active := id(items(t, expectStatus(t, srv.do(t, http.MethodGet, "/api/rules-files?status=Active", ""), http.StatusOK))[0])
	payload = expectStatus(t, srv.do(t, http.MethodPost, fmt.Sprintf("/api/rules-files/%d/ignore", active), "", asAdmin), http.StatusConflict)
	if payload["code"] != "RULES_FILE_ACTIVE" {
		t.Fatalf("code = %v, want RULES_FILE_ACTIVE", payload["code"])
	}
}

func TestUploadRejectsInvalidYAML(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := expectStatus(t, srv.do(t, http.MethodPost, "/api/rules/en/upload", "- color: '#000000'\n", asAdmin), http.StatusUnprocessableEntity)
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("code = %v, want VALIDATION_ERROR", payload["code"])
	}
}

func TestSyncRequiresAdminAndUpstream(t *testing.T) {
	srv := newTestServer(t, nil)
	expectStatus(t, srv.do(t, http.MethodPost, "/api/rules/en/sync", "", asDesigner("designer-1")), http.StatusForbidden)
	payload := expectStatus(t, srv.do(t, http.MethodPost, "/api/rules/en/sync", "", asAdmin), http.StatusServiceUnavailable)
	if payload["code"] != "SYNC_UNAVAILABLE" {
		t.Fatalf("code = %v, want SYNC_UNAVAILABLE", payload["code"])
	}
}

func TestReindexWithoutIndex(t *testing.T) {
	srv := newTestServer(t, nil)
	expectStatus(t, srv.do(t, http.MethodPost, "/api/search/reindex", ""), http.StatusForbidden)
	expectStatus(t, srv.do(t, http.MethodPost, "/api/search/reindex", "", asAdmin), http.StatusServiceUnavailable)
}
