package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/sangmemo/internal/apperr"
	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/noteservice"
	"github.com/starford/sangmemo/internal/notify"
	"github.com/starford/sangmemo/internal/search"
	"github.com/starford/sangmemo/internal/testutil"
)

const pngData = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

type stubAssistant struct{ err error }

func (a stubAssistant) Organize(context.Context, string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "- organized", nil
}

func (a stubAssistant) SuggestTags(context.Context, string) ([]string, error) {
	return []string{"suggested"}, a.err
}

type env struct {
	svc    *noteservice.Service
	sched  *notify.Scheduler
	router http.Handler
}

// testEnv sets up a temp store, service, scheduler and router for testing.
// A non-empty authToken enables token mode.
func testEnv(t *testing.T, authToken string, opts ...noteservice.Option) env {
	t.Helper()
	opts = append([]noteservice.Option{
		noteservice.WithSearcher(search.New(search.DefaultConfig(), nil, testutil.Logger())),
		noteservice.WithAssistant(stubAssistant{}),
	}, opts...)
	svc := testutil.TestService(t, opts...)
	sched := notify.New(svc, notify.WithLogger(testutil.Logger()))
	router := NewRouter(RouterConfig{
		Service:     svc,
		Scheduler:   sched,
		AuthEnabled: authToken != "",
		Token:       authToken,
	})
	return env{svc: svc, sched: sched, router: router}
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// createNote creates a note and saves title/content into it.
func createNote(t *testing.T, e env, title, content string) (Note, string) {
	t.Helper()
	w := do(t, e.router, http.MethodPost, "/notes", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[Note](t, w)

	w = do(t, e.router, http.MethodPut, "/notes/"+created.ID, SaveNoteRequest{Title: title, Content: content})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[Note](t, w), w.Header().Get("ETag")
}

func TestCreateAndViewNote(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "Hello", "World")

	w := do(t, e.router, http.MethodGet, "/notes/"+note.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[Note](t, w)
	if got.Title != "Hello" || got.Content != "World" {
		t.Errorf("note = %+v", got)
	}
	if got.ViewCount != 1 {
		t.Errorf("viewCount = %d, want 1", got.ViewCount)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}

	w = do(t, e.router, http.MethodGet, "/selection", nil)
	sel := decode[SelectionResponse](t, w)
	if sel.ID != note.ID || sel.Mode != noteservice.ModeViewing {
		t.Errorf("selection = %+v", sel)
	}
}

func TestSaveWithOptimisticLocking(t *testing.T) {
	e := testEnv(t, "")
	note, etag := createNote(t, e, "t", "v1")

	w := do(t, e.router, http.MethodPut, "/notes/"+note.ID, SaveNoteRequest{Content: "v2"}, "If-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("update with fresh etag = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, e.router, http.MethodPut, "/notes/"+note.ID, SaveNoteRequest{Content: "v3"}, "If-Match", etag)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale etag = %d, want 409", w.Code)
	}
}

func TestSaveValidation(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "c")

	w := do(t, e.router, http.MethodPut, "/notes/"+note.ID, SaveNoteRequest{Content: "c", Color: "magenta"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad color = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/notes/"+note.ID, strings.NewReader("{"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestLockedNoteStatusCodes(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "Diary", "secret")

	w := do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/lock", PasswordRequest{Password: "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("lock = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("lock response leaked content")
	}

	if w := do(t, e.router, http.MethodGet, "/notes/"+note.ID, nil); w.Code != http.StatusLocked {
		t.Errorf("locked view = %d, want 423", w.Code)
	}
	if w := do(t, e.router, http.MethodGet, "/notes/"+note.ID, nil, passwordHeader, "nope"); w.Code != http.StatusForbidden {
		t.Errorf("wrong password = %d, want 403", w.Code)
	}
	if w := do(t, e.router, http.MethodGet, "/notes/"+note.ID+"/export", nil); w.Code != http.StatusLocked {
		t.Errorf("locked export = %d, want 423", w.Code)
	}

	w = do(t, e.router, http.MethodGet, "/notes/"+note.ID, nil, passwordHeader, "pw")
	if w.Code != http.StatusOK {
		t.Fatalf("right password = %d", w.Code)
	}
	if got := decode[Note](t, w); got.Content != "secret" || got.Password != "" {
		t.Errorf("unlocked view = %+v", got)
	}
}

func TestLockWithoutPassword(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "c")
	if w := do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/lock", PasswordRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty password = %d, want 400", w.Code)
	}
}

func TestUnlock(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "c")
	do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/lock", PasswordRequest{Password: "pw"})

	w := do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/unlock", PasswordRequest{Password: "bad"})
	if w.Code != http.StatusOK || decode[UnlockResponse](t, w).Unlocked {
		t.Errorf("wrong unlock = %d %s", w.Code, w.Body.String())
	}
	w = do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/unlock", PasswordRequest{Password: "pw"})
	if !decode[UnlockResponse](t, w).Unlocked {
		t.Error("unlock with right password failed")
	}
	if w := do(t, e.router, http.MethodGet, "/notes/"+note.ID, nil); w.Code != http.StatusOK {
		t.Errorf("view after unlock = %d", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "c")

	if w := do(t, e.router, http.MethodDelete, "/notes/"+note.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := do(t, e.router, http.MethodGet, "/notes/"+note.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, e.router, http.MethodDelete, "/notes/"+note.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	e := testEnv(t, "")
	createNote(t, e, "b", "x")
	createNote(t, e, "a", "y")

	w := do(t, e.router, http.MethodGet, "/notes?sort=title", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	resp := decode[NoteListResponse](t, w)
	if resp.Total != 2 || resp.Notes[0].Title != "a" {
		t.Errorf("list = %+v", resp)
	}

	if w := do(t, e.router, http.MethodGet, "/notes?sort=color", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad sort = %d, want 400", w.Code)
	}
	if w := do(t, e.router, http.MethodGet, "/notes?filter=importance&importance=urgent", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad importance = %d, want 400", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "", "buy milk\nbuy eggs")

	w := do(t, e.router, http.MethodGet, "/search?q=milk", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	resp := decode[SearchResponse](t, w)
	if len(resp.Results) != 1 || resp.Results[0].Memo.ID != note.ID || resp.Results[0].SearchType != models.SearchExact {
		t.Errorf("results = %+v", resp.Results)
	}

	w = do(t, e.router, http.MethodGet, "/search?q=zzzqqq", nil)
	if got := decode[SearchResponse](t, w); len(got.Results) != 0 {
		t.Errorf("no-match results = %+v", got.Results)
	}

	w = do(t, e.router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusOK || len(decode[SearchResponse](t, w).Results) != 0 {
		t.Errorf("blank search = %d %s", w.Code, w.Body.String())
	}
}

func TestOrganize(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "messy")

	w := do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/organize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("organize = %d", w.Code)
	}
	if got := decode[Note](t, w); !got.IsOrganized || got.Content != "- organized" {
		t.Errorf("organized = %+v", got)
	}

	w = do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/tags/suggest", nil)
	if got := decode[Note](t, w); len(got.Tags) != 1 || got.Tags[0] != "suggested" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestOrganizeUnavailable(t *testing.T) {
	e := testEnv(t, "", noteservice.WithAssistant(stubAssistant{err: errors.Join(apperr.ErrUnavailable, errors.New("503"))}))
	note, _ := createNote(t, e, "t", "messy")

	if w := do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/organize", nil); w.Code != http.StatusBadGateway {
		t.Errorf("organize unavailable = %d, want 502", w.Code)
	}

	empty, _ := createNote(t, e, "t", "")
	if w := do(t, e.router, http.MethodPost, "/notes/"+empty.ID+"/organize", nil); w.Code != http.StatusBadRequest {
		t.Errorf("organize empty = %d, want 400", w.Code)
	}
}

func TestAttachImageDataURI(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "pic:")

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(pngData))
	w := do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/images", AttachImageRequest{DataURI: uri, Alt: "cat"})
	if w.Code != http.StatusOK {
		t.Fatalf("attach = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[Note](t, w); !strings.Contains(got.Content, "![cat](data:image/png;base64,") {
		t.Errorf("content = %q", got.Content)
	}

	if w := do(t, e.router, http.MethodPost, "/notes/"+note.ID+"/images", AttachImageRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty attach = %d, want 400", w.Code)
	}
}

func uploadFile(t *testing.T, router http.Handler, id, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/notes/"+id+"/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAttachImageMultipart(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "")

	w := uploadFile(t, e.router, note.ID, "photo.png", []byte(pngData))
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[Note](t, w); !strings.HasPrefix(got.Content, "![photo](data:image/png") {
		t.Errorf("content = %q", got.Content)
	}

	if w := uploadFile(t, e.router, note.ID, "notes.txt", []byte("plain text")); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text upload = %d, want 415", w.Code)
	}
}

func TestExportAndHTML(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "Groceries", "- milk")

	w := do(t, e.router, http.MethodGet, "/notes/"+note.ID+"/export?timestamps=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Groceries.md") {
		t.Errorf("content-disposition = %q", cd)
	}
	if !strings.Contains(w.Body.String(), "Created: ") {
		t.Errorf("export body = %q", w.Body.String())
	}

	w = do(t, e.router, http.MethodGet, "/notes/"+note.ID+"/html", nil)
	if !strings.Contains(w.Body.String(), "<li>milk</li>") {
		t.Errorf("html = %q", w.Body.String())
	}
}

func TestCategories(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "t", "c")
	do(t, e.router, http.MethodPut, "/notes/"+note.ID, SaveNoteRequest{Content: "c", Category: "work"})

	w := do(t, e.router, http.MethodGet, "/categories", nil)
	if got := decode[CategoriesResponse](t, w); len(got.Categories) != 1 || got.Categories[0] != "work" {
		t.Errorf("categories = %v", got.Categories)
	}
}

func TestNotifications(t *testing.T) {
	e := testEnv(t, "")
	note, _ := createNote(t, e, "call mom", "")
	past := time.Now().Add(-time.Minute)
	do(t, e.router, http.MethodPut, "/notes/"+note.ID, SaveNoteRequest{Title: "call mom", ReminderDate: past})
	e.sched.Tick(time.Now())
	e.sched.Tick(time.Now())

	w := do(t, e.router, http.MethodGet, "/notifications", nil)
	resp := decode[NotificationsResponse](t, w)
	if len(resp.Notifications) != 1 || resp.Unread != 1 {
		t.Fatalf("notifications = %+v", resp)
	}
	item := resp.Notifications[0]
	if item.MemoID != note.ID || item.Type != models.NotificationReminder {
		t.Errorf("item = %+v", item)
	}

	if w := do(t, e.router, http.MethodPost, "/notifications/"+item.ID+"/read", nil); w.Code != http.StatusNoContent {
		t.Errorf("mark read = %d", w.Code)
	}
	if w := do(t, e.router, http.MethodPost, "/notifications/missing/read", nil); w.Code != http.StatusNotFound {
		t.Errorf("mark unknown = %d, want 404", w.Code)
	}
	w = do(t, e.router, http.MethodGet, "/notifications/unread-count", nil)
	if got := decode[UnreadCountResponse](t, w); got.Unread != 0 {
		t.Errorf("unread = %d", got.Unread)
	}
	if w := do(t, e.router, http.MethodPost, "/notifications/read-all", nil); w.Code != http.StatusNoContent {
		t.Errorf("read all = %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := do(t, e.router, http.MethodPost, "/notes", nil, "Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := do(t, e.router, http.MethodGet, "/notes", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := do(t, e.router, http.MethodGet, "/notes", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := testEnv(t, "")
	if w := do(t, e.router, http.MethodGet, "/notes", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// testEnvWithSSE creates a router with a dummy SSE handler to test auth on /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) http.Handler {
	t.Helper()
	svc := testutil.TestService(t)

	// Minimal SSE handler stub: writes headers and blocks until context done.
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})

	return NewRouter(RouterConfig{Service: svc, AuthEnabled: authEnabled, Token: token, SSE: sseHandler})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret")

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestNotificationRoutesSkippedWithoutScheduler(t *testing.T) {
	router := testEnvWithSSE(t, false, "")
	if w := do(t, router, http.MethodGet, "/notifications", nil); w.Code != http.StatusNotFound {
		t.Errorf("notifications without scheduler = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenForGet(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := do(t, e.router, http.MethodGet, "/notes?access_token=secret123", nil); w.Code != http.StatusOK {
		t.Errorf("query token GET = %d, want 200", w.Code)
	}
	if w := do(t, e.router, http.MethodPost, "/notes?access_token=secret123", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("query token POST = %d, want 401", w.Code)
	}
}
