package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"chronicle/editor/internal/exportqueue"
	"chronicle/editor/internal/store"
)

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", planContent)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/api/documents/doc-1", tt.token, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if body := decodeJSON(t, rr); body["code"] != "UNAUTHORIZED" {
				t.Fatalf("expected UNAUTHORIZED, got %v", body)
			}
		})
	}
}

func TestLoginEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/session/login", "", `{"name":"Ada Lovelace","tier":"pro"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	login := decodeJSON(t, rr)
	token, _ := login["token"].(string)
	if token == "" || login["tier"] != "pro" || login["role"] != "editor" {
		t.Fatalf("unexpected login response %v", login)
	}

	rr = env.do(t, http.MethodGet, "/api/session", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if session := decodeJSON(t, rr); session["userName"] != "Ada Lovelace" || session["userId"] != login["userId"] {
		t.Fatalf("unexpected session %v", session)
	}

	rr = env.do(t, http.MethodPost, "/api/session/login", "", `{"name":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty name, got %d", rr.Code)
	}
}

func TestLoginDisabled(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.service, "*", false, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/session/login", strings.NewReader(`{"name":"Ada"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when dev login is off, got %d", rr.Code)
	}
}

func TestDocumentEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", "<p>Draft</p>")
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	rr := env.do(t, http.MethodPut, "/api/documents/doc-1", token, `{"title":"Pilot plan","content":"<p>Final</p>"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/documents/doc-1", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	doc, _ := decodeJSON(t, rr)["document"].(map[string]any)
	if doc["id"] != "doc-1" || doc["content"] != "<p>Final</p>" || doc["updatedAt"] == nil {
		t.Fatalf("unexpected document %v", doc)
	}

	rr = env.do(t, http.MethodGet, "/api/documents/doc-404", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing document, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/documents/doc-1", token, `{"title":`)
	if rr.Code != http.StatusBadRequest || decodeJSON(t, rr)["code"] != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/documents", token, `{"title":"Launch brief"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestViewerCannotSave(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", "<p>Draft</p>")
	token := env.signIn(t, "usr_vera", "Vera Viewer", "viewer", "free")

	rr := env.do(t, http.MethodPut, "/api/documents/doc-1", token, `{"title":"x","content":"y"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestTemplateEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Acme renewal", "")
	env.store.templates = append(env.store.templates, store.Template{ID: "tpl_memo", Name: "Memo", Body: "<h1>{{.Title}}</h1>"})
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	rr := env.do(t, http.MethodGet, "/api/templates", token, "")
	templates, _ := decodeJSON(t, rr)["templates"].([]any)
	if len(templates) != 1 {
		t.Fatalf("expected one template, got %v", templates)
	}
	if first, _ := templates[0].(map[string]any); first["id"] != "tpl_memo" || first["body"] != nil {
		t.Fatalf("templates should list id and name only, got %v", first)
	}

	rr = env.do(t, http.MethodPost, "/api/documents/doc-1/templates/tpl_memo/apply", token, `{"context":"renewal"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("apply: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if content := decodeJSON(t, rr)["content"]; content != "<h1>Acme renewal</h1>" {
		t.Fatalf("unexpected content %v", content)
	}
}

func TestSuggestionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", planContent)
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	rr := env.do(t, http.MethodPost, "/api/documents/doc-1/suggestions", token, `{"context":"pilot","content":""}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("suggest: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	items, _ := decodeJSON(t, rr)["suggestions"].([]any)
	if len(items) < 2 {
		t.Fatalf("expected outline suggestions, got %v", items)
	}
	first, _ := items[0].(map[string]any)
	second, _ := items[1].(map[string]any)

	rr = env.do(t, http.MethodPost, "/api/documents/doc-1/suggestions/"+first["id"].(string)+"/accept", token, "")
	if rr.Code != http.StatusOK || decodeJSON(t, rr)["ok"] != true {
		t.Fatalf("accept: got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/documents/doc-1/suggestions/"+second["id"].(string)+"/reject", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reject: got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/documents/doc-1/suggestions/"+second["id"].(string)+"/accept", token, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("accepting a rejected suggestion: expected 409, got %d", rr.Code)
	}
}

func TestExportEntitlementResponse(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", planContent)
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	for _, path := range []string{"/api/documents/doc-1/export", "/api/documents/doc-1/exports"} {
		rr := env.do(t, http.MethodPost, path, token, `{"format":"application/pdf"}`)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, rr.Code)
		}
		body := decodeJSON(t, rr)
		if body["code"] != "ENTITLEMENT_REQUIRED" {
			t.Fatalf("%s: unexpected code %v", path, body["code"])
		}
		details, _ := body["details"].(map[string]any)
		if details["kind"] != "entitlement" || details["tierLabel"] != "Pro" || details["ctaUrl"] != "https://chronicle.dev/pricing" {
			t.Fatalf("%s: unexpected details %v", path, details)
		}
		if details["message"] != body["error"] {
			t.Fatalf("%s: details message should repeat the error, got %v", path, details["message"])
		}
	}
}

func TestExportValidationDetails(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", planContent)
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	rr := env.do(t, http.MethodPost, "/api/documents/doc-1/exports", token, `{"format":"rtf"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	details, _ := body["details"].(map[string]any)
	if body["code"] != "VALIDATION_FAILED" || details["format"] == nil {
		t.Fatalf("expected a format validation error, got %v", body)
	}
}

func TestEnqueueAndPollExport(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", planContent)
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	rr := env.do(t, http.MethodPost, "/api/documents/doc-1/exports", token, `{"format":"markdown","options":{"omitTitle":true}}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	queued := decodeJSON(t, rr)
	taskID, _ := queued["taskId"].(string)
	if taskID == "" || queued["status"] != "queued" || queued["format"] != "text/markdown" {
		t.Fatalf("unexpected enqueue response %v", queued)
	}

	rr = env.do(t, http.MethodGet, "/api/documents/doc-1/exports/"+taskID, token, "")
	job, _ := decodeJSON(t, rr)["job"].(map[string]any)
	if job["status"] != "queued" || job["downloadUrl"] != nil {
		t.Fatalf("unexpected job %v", job)
	}

	rr = env.do(t, http.MethodGet, "/api/documents/doc-1/exports", token, "")
	jobs, _ := decodeJSON(t, rr)["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %v", jobs)
	}
}

func TestExportDownload(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", planContent)
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	rr := env.do(t, http.MethodPost, "/api/documents/doc-1/export", token, `{"format":"html"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	downloadURL, _ := decodeJSON(t, rr)["downloadUrl"].(string)
	if !strings.HasPrefix(downloadURL, "/api/exports/") || !strings.HasSuffix(downloadURL, "/Pilot-plan.html") {
		t.Fatalf("unexpected download url %q", downloadURL)
	}

	rr = env.do(t, http.MethodGet, downloadURL, "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("downloads require a token, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, downloadURL, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename=Pilot-plan.html` {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	if got := rr.Header().Get("X-Checksum-Blake2b"); got != exportqueue.Checksum(rr.Body.Bytes()) {
		t.Fatalf("checksum header %q does not match body", got)
	}
	if !strings.Contains(rr.Body.String(), "The pilot covers three regional offices") {
		t.Fatalf("artifact does not contain the document, got %q", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, downloadURL+"?redirect=1", token, "")
	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rr.Code)
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil || location.Host != "minio.test" {
		t.Fatalf("expected a presigned object store url, got %q", rr.Header().Get("Location"))
	}
	if location.Query().Get("filename") != "Pilot-plan.html" {
		t.Fatalf("expected the download name to be passed on, got %q", location.RawQuery)
	}

	rr = env.do(t, http.MethodGet, "/api/documents/doc-1/exports", token, "")
	jobs, _ := decodeJSON(t, rr)["jobs"].([]any)
	job, _ := jobs[0].(map[string]any)
	if job["status"] != "ready" || job["downloadUrl"] != downloadURL || job["checksum"] == "" {
		t.Fatalf("unexpected ready job %v", job)
	}
}

func TestVersionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", "<p>First draft</p>")
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	env.do(t, http.MethodPut, "/api/documents/doc-1", token, `{"title":"Pilot plan","content":"<p>Second draft</p>"}`)

	rr := env.do(t, http.MethodGet, "/api/documents/doc-1/versions", token, "")
	versions, _ := decodeJSON(t, rr)["versions"].([]any)
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %v", versions)
	}
	initial, _ := versions[1].(map[string]any)
	if initial["label"] != "Create document" || initial["createdAt"] == nil {
		t.Fatalf("unexpected initial version %v", initial)
	}

	rr = env.do(t, http.MethodPost, "/api/documents/doc-1/versions/"+initial["id"].(string)+"/restore", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if content := decodeJSON(t, rr)["content"]; content != "<p>First draft</p>" {
		t.Fatalf("unexpected restored content %v", content)
	}

	rr = env.do(t, http.MethodPost, "/api/documents/doc-1/versions/0000000/restore", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown version, got %d", rr.Code)
	}
}

func TestPresenceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", "Pilot plan", planContent)
	token := env.signIn(t, "usr_ada", "Ada Lovelace", "editor", "free")

	rr := env.do(t, http.MethodPost, "/api/documents/doc-1/presence", token, `{"status":"reviewing"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("heartbeat: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/documents/doc-1/presence", token, "")
	collaborators, _ := decodeJSON(t, rr)["collaborators"].([]any)
	if len(collaborators) != 1 {
		t.Fatalf("expected one collaborator, got %v", collaborators)
	}
	me, _ := collaborators[0].(map[string]any)
	if me["userId"] != "usr_ada" || me["name"] != "Ada Lovelace" || me["status"] != "reviewing" {
		t.Fatalf("unexpected collaborator %v", me)
	}

	rr = env.do(t, http.MethodDelete, "/api/documents/doc-1/presence", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/documents/doc-1/presence", token, "")
	if collaborators, _ := decodeJSON(t, rr)["collaborators"].([]any); len(collaborators) != 0 {
		t.Fatalf("expected an empty roster, got %v", collaborators)
	}
}
