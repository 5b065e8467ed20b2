package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"localehub/api/internal/auth"
	"localehub/api/internal/store"
	"localehub/api/internal/util"
)

func issueTestToken(t *testing.T, svc *Service, userID, name string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Sub:  userID,
		Name: name,
		JTI:  util.NewID("jti"),
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodePayload(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request ID header")
	}
}

func TestCreateFileEndpoint(t *testing.T) {
	var created store.File
	svc := newTestService(&fakeStore{
		createFileFn: func(_ context.Context, file store.File, _ string) error {
			created = file
			return nil
		},
	})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr-1", "Avery")

	body := `{"name":"App.xcstrings","content":"{\"sourceLanguage\":\"en\",\"strings\":{}}"}`
	rr := doRequest(t, server, http.MethodPost, "/api/files", token, body)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["name"] != "App.xcstrings" {
		t.Fatalf("unexpected name %v", payload["name"])
	}
	if created.OwnerID != "usr-1" {
		t.Fatalf("expected owner from token, got %q", created.OwnerID)
	}
}

func TestCreateFileRequiresAuth(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server, http.MethodPost, "/api/files", "", `{"content":"{}"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["code"] != "PERMISSION_DENIED" {
		t.Fatalf("expected PERMISSION_DENIED, got %v", payload["code"])
	}
}

func TestBadBearerTokenRejected(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/files", "not-a-token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestPublicFileReadableWithoutToken(t *testing.T) {
	svc := newTestService(&fakeStore{
		getFileFn: func(_ context.Context, fileID string) (store.File, error) {
			return store.File{ID: fileID, OwnerID: "usr-1", Name: "Public.xcstrings", Content: `{"strings":{}}`, IsPublic: true}, nil
		},
	})
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodGet, "/api/files/file-1", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["public"] != true {
		t.Fatalf("expected public flag, got %v", payload["public"])
	}
}

func TestPrivateFileHiddenFromStrangers(t *testing.T) {
	svc := newTestService(&fakeStore{
		getFileFn: func(_ context.Context, fileID string) (store.File, error) {
			return store.File{ID: fileID, OwnerID: "usr-1"}, nil
		},
	})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr-2", "Stranger")

	rr := doRequest(t, server, http.MethodGet, "/api/files/file-1", token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestVersionRoutes(t *testing.T) {
	svc := newTestService(&fakeStore{
		getFileFn: func(_ context.Context, fileID string) (store.File, error) {
			return store.File{ID: fileID, OwnerID: "usr-1"}, nil
		},
		listVersionsFn: func(context.Context, string) ([]store.FileVersion, error) {
			return []store.FileVersion{
				{VersionNumber: 2, Comment: "Second"},
				{VersionNumber: 1, Comment: "Initial version"},
			}, nil
		},
		getVersionFn: func(_ context.Context, _ string, versionNumber int) (store.FileVersion, error) {
			return store.FileVersion{VersionNumber: versionNumber, Content: `{"strings":{}}`}, nil
		},
	})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr-1", "Avery")

	rr := doRequest(t, server, http.MethodGet, "/api/files/file-1/versions", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	versions, _ := payload["versions"].([]any)
	if len(versions) != 2 {
		t.Fatalf("expected two versions, got %v", payload["versions"])
	}
	first, _ := versions[0].(map[string]any)
	if _, hasContent := first["content"]; hasContent {
		t.Fatal("listing must not carry version content")
	}

	rr = doRequest(t, server, http.MethodGet, "/api/files/file-1/versions/2", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	payload = decodePayload(t, rr)
	if _, hasContent := payload["content"]; !hasContent {
		t.Fatal("single version must include content")
	}

	rr = doRequest(t, server, http.MethodGet, "/api/files/file-1/versions/zero", token, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad version number, got %d", rr.Code)
	}
}

func TestRevertRouteReturnsNewVersion(t *testing.T) {
	svc := newTestService(&fakeStore{
		getFileFn: func(_ context.Context, fileID string) (store.File, error) {
			return store.File{ID: fileID, OwnerID: "usr-1"}, nil
		},
		getVersionFn: func(_ context.Context, _ string, versionNumber int) (store.FileVersion, error) {
			return store.FileVersion{VersionNumber: versionNumber, Content: `{"strings":{}}`}, nil
		},
		updateFileContentFn: func(_ context.Context, _, _, _ string, _ int64, _, comment string) (int, bool, error) {
			if comment != "Reverted to version 3" {
				t.Fatalf("unexpected comment %q", comment)
			}
			return 8, true, nil
		},
	})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr-1", "Avery")

	rr := doRequest(t, server, http.MethodPost, "/api/files/file-1/versions/3/revert", token, `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["versionNumber"] != float64(8) {
		t.Fatalf("expected versionNumber 8, got %v", payload["versionNumber"])
	}
}

func TestShareRoutes(t *testing.T) {
	deleted := ""
	svc := newTestService(&fakeStore{
		getFileFn: func(_ context.Context, fileID string) (store.File, error) {
			return store.File{ID: fileID, OwnerID: "usr-1"}, nil
		},
		resolveUserFn: func(_ context.Context, emailOrID string) (store.User, error) {
			return store.User{ID: "usr-2", DisplayName: "Pat", Email: "pat@example.com"}, nil
		},
		deleteShareFn: func(_ context.Context, _, granteeID string) error {
			deleted = granteeID
			return nil
		},
	})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr-1", "Avery")

	rr := doRequest(t, server, http.MethodPost, "/api/files/file-1/shares", token, `{"grantee":"pat@example.com","canEdit":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("share: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["granteeId"] != "usr-2" || payload["canEdit"] != true {
		t.Fatalf("unexpected share payload %v", payload)
	}

	rr = doRequest(t, server, http.MethodDelete, "/api/files/file-1/shares/usr-2", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unshare: expected 200, got %d", rr.Code)
	}
	if deleted != "usr-2" {
		t.Fatalf("expected delete for usr-2, got %q", deleted)
	}
}

func TestErrorEnvelopeCarriesCode(t *testing.T) {
	svc := newTestService(&fakeStore{
		countOwnedFilesFn: func(context.Context, string) (int, error) {
			return 3, nil
		},
	})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr-1", "Avery")

	rr := doRequest(t, server, http.MethodPost, "/api/files", token, `{"content":"{\"strings\":{}}"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["code"] != "QUOTA_EXCEEDED" {
		t.Fatalf("expected QUOTA_EXCEEDED, got %v", payload["code"])
	}
	if payload["error"] == "" {
		t.Fatal("expected human-readable message")
	}
}

func TestUnknownRoute(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
