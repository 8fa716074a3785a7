package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SnowBall-Bqiu/IMHO/internal/auditlog"
	"github.com/SnowBall-Bqiu/IMHO/internal/keystore"
	"github.com/SnowBall-Bqiu/IMHO/internal/ledger"
	"github.com/SnowBall-Bqiu/IMHO/internal/middleware"
	"github.com/SnowBall-Bqiu/IMHO/internal/naming"
	"github.com/SnowBall-Bqiu/IMHO/internal/session"
	"github.com/SnowBall-Bqiu/IMHO/internal/storage"
	"github.com/SnowBall-Bqiu/IMHO/internal/urls"
	"github.com/SnowBall-Bqiu/IMHO/internal/validate"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testEnv struct {
	srv   *httptest.Server
	keys  *keystore.MemoryStore
	ldg   *ledger.Ledger
	store storage.Storage

	alice *keystore.UserInfo
	bob   *keystore.UserInfo
	admin *keystore.UserInfo
}

// newTestEnv wires the full upload surface the way main does, on temp dirs
// and the in-memory key store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	keys := keystore.NewMemoryStore()
	alice, err := keys.Create(ctx, "alice1", "alice", keystore.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := keys.Create(ctx, "bob1", "bob", keystore.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	admin, err := keys.Create(ctx, "root1", "root", keystore.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ldg, err := ledger.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	audit, err := auditlog.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { audit.Close() })

	policy := validate.Policy{
		MaxFileSize: 50 * 1024 * 1024,
		Types:       map[string][]string{"image": {"jpg", "jpeg", "png", "gif"}},
	}
	resolver := urls.NewResolver("http://img.test/i/", map[string]string{"2": "http://mirror.test"})
	sessions := session.NewManager("test-secret", time.Hour, keys)

	svc := NewService(policy, store, ldg, resolver, audit)
	h := NewHandler(svc)
	sessionHandler := session.NewHandler(sessions, keys, time.Hour)
	keyHandler := keystore.NewHandler(keys)

	r := chi.NewRouter()
	r.Get("/i/{filename}", h.ServeFile)
	r.With(middleware.RequireAPIKey(keys)).Post("/api/upload", h.APIUpload)
	r.Post("/login", sessionHandler.Login)
	r.Post("/logout", sessionHandler.Logout)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(sessions, keys))
		r.Post("/upload", h.WebUpload)
		r.Get("/files", h.ListFiles)
		r.Post("/delete", h.Delete)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/keys", keyHandler.ListKeys)
			r.Post("/keys", keyHandler.CreateKey)
			r.Post("/keys/disable", keyHandler.DisableKey)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, keys: keys, ldg: ldg, store: store, alice: alice, bob: bob, admin: admin}
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func (e *testEnv) apiUpload(t *testing.T, apiKey, filename string, content []byte) (*http.Response, envelope) {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/upload", body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", contentType)
	if apiKey != "" {
		req.Header.Set("X-Auth-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, env
}

func TestAPIUpload(t *testing.T) {
	e := newTestEnv(t)

	resp, env := e.apiUpload(t, e.alice.APIKey, "holiday.png", []byte("fake png"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %+v", resp.StatusCode, env)
	}
	if !env.Success {
		t.Fatalf("success = false: %+v", env)
	}

	var data struct {
		URL         string `json:"url"`
		OriginalURL string `json:"original_url"`
		Filename    string `json:"filename"`
		Size        int64  `json:"size"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}

	// Default selector "2" is configured as a mirror here.
	if data.URL != "http://mirror.test/i/"+data.Filename {
		t.Errorf("url = %q", data.URL)
	}
	if data.OriginalURL != "http://img.test/i/"+data.Filename {
		t.Errorf("original_url = %q", data.OriginalURL)
	}
	if data.Size != int64(len("fake png")) {
		t.Errorf("size = %d", data.Size)
	}

	parsed := naming.Parse(data.Filename)
	if parsed.UserID != e.alice.UserID {
		t.Errorf("stored filename %q encodes user %q", data.Filename, parsed.UserID)
	}

	// Bytes are retrievable through the public path.
	resp2, err := http.Get(e.srv.URL + "/i/" + data.Filename)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	got, _ := io.ReadAll(resp2.Body)
	if resp2.StatusCode != http.StatusOK || string(got) != "fake png" {
		t.Errorf("serve = %d %q", resp2.StatusCode, got)
	}
	if ct := resp2.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("served content type = %q", ct)
	}

	// And the ledger has the real source entry.
	if !e.ldg.HasSource(data.Filename) {
		t.Error("no source map entry after upload")
	}
}

func TestAPIUploadRejections(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.apiUpload(t, "", "a.png", []byte("x"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", resp.StatusCode)
	}

	resp, _ = e.apiUpload(t, "ky-user-bogus", "a.png", []byte("x"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus key status = %d", resp.StatusCode)
	}

	resp, env := e.apiUpload(t, e.alice.APIKey, "run.exe", []byte("x"))
	if resp.StatusCode != http.StatusBadRequest || env.Success {
		t.Errorf("unsupported type = %d %+v", resp.StatusCode, env)
	}
}

func TestWebLoginAndUpload(t *testing.T) {
	e := newTestEnv(t)

	loginBody, _ := json.Marshal(map[string]string{"api_key": e.alice.APIKey})
	resp, err := http.Post(e.srv.URL+"/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("no session cookie set on login")
	}

	body, contentType := multipartBody(t, "vacation shot.png", []byte("fake png"))
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/upload", body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("web upload status = %d", resp2.StatusCode)
	}

	// The web channel answers with the canonical URL as plain text.
	url, _ := io.ReadAll(resp2.Body)
	if !strings.HasPrefix(string(url), "http://img.test/i/"+e.alice.Username+"_") {
		t.Errorf("web upload response = %q", url)
	}
	if !strings.HasSuffix(string(url), "_vacationshot.png") {
		t.Errorf("web upload response = %q", url)
	}
}

func TestWebLoginRejectsBadKey(t *testing.T) {
	e := newTestEnv(t)

	loginBody, _ := json.Marshal(map[string]string{"api_key": "ky-user-bogus"})
	resp, err := http.Post(e.srv.URL+"/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("login with bad key = %d", resp.StatusCode)
	}
}

func listFiles(t *testing.T, e *testEnv, apiKey string) []FileEntry {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/files", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Auth-Key", apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	var data struct {
		Files []FileEntry `json:"files"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	return data.Files
}

func deleteFile(t *testing.T, e *testEnv, apiKey, filename string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"filename": filename})
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/delete", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Key", apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func TestListVisibilityAndDelete(t *testing.T) {
	e := newTestEnv(t)

	_, aliceEnv := e.apiUpload(t, e.alice.APIKey, "a.png", []byte("alice bytes"))
	_, bobEnv := e.apiUpload(t, e.bob.APIKey, "b.png", []byte("bob bytes"))
	var aliceFile, bobFile struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(aliceEnv.Data, &aliceFile); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(bobEnv.Data, &bobFile); err != nil {
		t.Fatal(err)
	}

	// Users see only their own uploads; admins see everything.
	aliceList := listFiles(t, e, e.alice.APIKey)
	if len(aliceList) != 1 || aliceList[0].Name != aliceFile.Filename {
		t.Errorf("alice sees %+v", aliceList)
	}
	if !aliceList[0].CanManage || aliceList[0].Uploader != "alice" {
		t.Errorf("alice entry = %+v", aliceList[0])
	}
	if adminList := listFiles(t, e, e.admin.APIKey); len(adminList) != 2 {
		t.Errorf("admin sees %d files, want 2", len(adminList))
	}

	// Bob may not delete alice's file.
	if resp := deleteFile(t, e, e.bob.APIKey, aliceFile.Filename); resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-user delete = %d, want 403", resp.StatusCode)
	}

	// Alice may; the bytes go, the ledger entry stays.
	if resp := deleteFile(t, e, e.alice.APIKey, aliceFile.Filename); resp.StatusCode != http.StatusOK {
		t.Errorf("owner delete = %d, want 200", resp.StatusCode)
	}
	if _, err := e.store.Open(context.Background(), aliceFile.Filename); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("file still present after delete: %v", err)
	}
	if !e.ldg.HasSource(aliceFile.Filename) {
		t.Error("ledger entry removed by delete")
	}
	if resp := deleteFile(t, e, e.alice.APIKey, aliceFile.Filename); resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeated delete = %d, want 404", resp.StatusCode)
	}

	// Admin may delete anyone's file.
	if resp := deleteFile(t, e, e.admin.APIKey, bobFile.Filename); resp.StatusCode != http.StatusOK {
		t.Errorf("admin delete = %d, want 200", resp.StatusCode)
	}
}

func TestAdminKeyEndpointsRequireAdmin(t *testing.T) {
	e := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/admin/keys", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Auth-Key", e.alice.APIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-admin list keys = %d, want 403", resp.StatusCode)
	}

	req.Header.Set("X-Auth-Key", e.admin.APIKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin list keys = %d, want 200", resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	var keys []keystore.UserInfo
	if err := json.Unmarshal(env.Data, &keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Errorf("admin sees %d keys, want 3", len(keys))
	}
}

func TestAdminCreateAndDisableKey(t *testing.T) {
	e := newTestEnv(t)

	createBody, _ := json.Marshal(map[string]string{"user_id": "carol1", "username": "carol"})
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/admin/keys", bytes.NewReader(createBody))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Key", e.admin.APIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create key = %d", resp.StatusCode)
	}
	var created keystore.UserInfo
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.APIKey, "ky-user-") || created.Role != keystore.RoleUser {
		t.Errorf("created key = %+v", created)
	}

	// Same user again conflicts.
	req2, err := http.NewRequest(http.MethodPost, e.srv.URL+"/admin/keys", bytes.NewReader(createBody))
	if err != nil {
		t.Fatal(err)
	}
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Auth-Key", e.admin.APIKey)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", resp2.StatusCode)
	}

	// Disable the new key and confirm it stops authenticating.
	disableBody, _ := json.Marshal(map[string]string{"api_key": created.APIKey})
	req3, err := http.NewRequest(http.MethodPost, e.srv.URL+"/admin/keys/disable", bytes.NewReader(disableBody))
	if err != nil {
		t.Fatal(err)
	}
	req3.Header.Set("Content-Type", "application/json")
	req3.Header.Set("X-Auth-Key", e.admin.APIKey)
	resp3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("disable key = %d", resp3.StatusCode)
	}

	if resp, _ := e.apiUpload(t, created.APIKey, "a.png", []byte("x")); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("upload with disabled key = %d, want 401", resp.StatusCode)
	}
}
