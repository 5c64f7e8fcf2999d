package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/entbrowser/internal/app"
	"github.com/starford/entbrowser/internal/models"
	"github.com/starford/entbrowser/internal/testutil"
)

// testEnv sets up a temp data dir, an empty database registry and the API
// router mounted under /api.
func testEnv(t *testing.T) (*app.Registry, http.Handler) {
	t.Helper()
	return testEnvWithEvents(t, nil)
}

func testEnvWithEvents(t *testing.T, events Events) (*app.Registry, http.Handler) {
	t.Helper()
	dbs, files := testutil.TestRegistry(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := app.New(app.Options{Databases: dbs, Logger: logger})
	t.Cleanup(reg.StopAll)

	r := chi.NewRouter()
	r.Mount("/api", NewRouter(reg, files, events, logger))
	return reg, r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, w.Body.String())
	}
	return v
}

func register(t *testing.T, h http.Handler, req RegisterDatabaseRequest) DatabaseSummary {
	t.Helper()
	if req.Location == "" {
		req.Location = testutil.StoreDir(t)
	}
	w := do(t, h, http.MethodPost, "/api/dbs", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[DatabaseSummary](t, w)
}

func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func userView(login string) EntityView {
	return EntityView{
		Type:       "User",
		Properties: []models.PropertyView{{Name: "login", Type: models.TypeString, Value: login}},
	}
}

func TestEndToEndFlow(t *testing.T) {
	_, router := testEnv(t)

	d := register(t, router, RegisterDatabaseRequest{})
	if d.UUID == "" {
		t.Fatal("uuid not assigned")
	}

	w := do(t, router, http.MethodGet, "/api/dbs", nil)
	list := decode[[]DatabaseSummary](t, w)
	if len(list) != 1 || list[0].IsOpened {
		t.Fatalf("list = %+v, want one closed database", list)
	}

	w = do(t, router, http.MethodPost, "/api/dbs/"+d.UUID+"/open", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d, body = %s", w.Code, w.Body.String())
	}
	if !decode[DatabaseSummary](t, w).IsOpened {
		t.Error("open must set isOpened")
	}

	w = do(t, router, http.MethodGet, "/api/dbs/"+d.UUID+"/entities?type=X", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "{\"items\":[],\"totalCount\":0}\n" {
		t.Errorf("empty search body = %s", got)
	}

	w = do(t, router, http.MethodPost, "/api/dbs/"+d.UUID+"/entities", EntityView{Type: "X"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/api/dbs/"+d.UUID+"/entities?type=X", nil)
	pager := decode[SearchPager](t, w)
	if pager.TotalCount != 1 || len(pager.Items) != 1 {
		t.Errorf("pager = %+v, want one item", pager)
	}
	if pager.Items[0].Label != "X[0]" {
		t.Errorf("label = %q, want X[0]", pager.Items[0].Label)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{})

	w := do(t, router, http.MethodPost, "/api/dbs", RegisterDatabaseRequest{Location: d.Location})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d, want 409", w.Code)
	}
	if decode[errResponse](t, w).ErrorMessage == "" {
		t.Error("errorMessage must be set")
	}

	list := decode[[]DatabaseSummary](t, do(t, router, http.MethodGet, "/api/dbs", nil))
	if len(list) != 1 {
		t.Errorf("registered %d databases, want 1", len(list))
	}
}

func TestRegisterValidation(t *testing.T) {
	_, router := testEnv(t)

	cases := []struct {
		name string
		body any
	}{
		{"missing location", RegisterDatabaseRequest{}},
		{"bad key", RegisterDatabaseRequest{Location: testutil.StoreDir(t), Key: "zz"}},
		{"short key", RegisterDatabaseRequest{Location: testutil.StoreDir(t), Key: "abcd"}},
	}
	for _, c := range cases {
		w := do(t, router, http.MethodPost, "/api/dbs", c.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", c.name, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/dbs", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d, want 400", w.Code)
	}
}

func TestRegisterEncryptedHidesKey(t *testing.T) {
	_, router := testEnv(t)
	key := "000102030405060708090a0b0c0d0e0f"
	d := register(t, router, RegisterDatabaseRequest{Key: key, Open: true})
	if !d.IsEncrypted || d.Key != "" {
		t.Errorf("summary = %+v, want encrypted without key", d)
	}
	if !d.IsOpened {
		t.Error("open flag must open the database")
	}
	if bytes.Contains(do(t, router, http.MethodGet, "/api/dbs/"+d.UUID, nil).Body.Bytes(), []byte(key)) {
		t.Error("key leaked in response")
	}
}

func TestUnknownDatabase(t *testing.T) {
	_, router := testEnv(t)
	for _, p := range []string{"/api/dbs/nope", "/api/dbs/nope/types", "/api/dbs/nope/entities?type=X"} {
		if w := do(t, router, http.MethodGet, p, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", p, w.Code)
		}
	}
	if w := do(t, router, http.MethodPost, "/api/dbs/nope/open", nil); w.Code != http.StatusNotFound {
		t.Errorf("open unknown = %d, want 404", w.Code)
	}
}

func TestClosedDatabaseRejectsEntityRoutes(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})

	w := do(t, router, http.MethodPost, "/api/dbs/"+d.UUID+"/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d", w.Code)
	}
	if decode[DatabaseSummary](t, w).IsOpened {
		t.Error("close must clear isOpened")
	}
	if w := do(t, router, http.MethodGet, "/api/dbs/"+d.UUID+"/types", nil); w.Code != http.StatusNotFound {
		t.Errorf("types on closed db = %d, want 404", w.Code)
	}
}

func TestEntityCRUD(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID

	w := do(t, router, http.MethodPost, base+"/entities", EntityView{
		Type:       "Group",
		Properties: []models.PropertyView{{Name: "name", Type: models.TypeString, Value: "admins"}},
	})
	group := decode[EntityView](t, w)

	user := userView("bob")
	user.Links = []models.LinkView{{Name: "group", Targets: []models.LinkTarget{{ID: group.ID}}}}
	w = do(t, router, http.MethodPost, base+"/entities", user)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[EntityView](t, w)
	if created.Label != "bob" {
		t.Errorf("label = %q, want bob", created.Label)
	}
	if len(created.Links) != 1 || created.Links[0].Targets[0].Label != "admins" {
		t.Errorf("links = %+v", created.Links)
	}

	w = do(t, router, http.MethodGet, base+"/entities/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = do(t, router, http.MethodPut, base+"/entities/"+created.ID, ChangeSummary{
		Properties:  []models.PropertyView{{Name: "age", Type: models.TypeInteger, Value: 30}},
		RemoveLinks: []models.LinkChange{{Name: "group", Target: group.ID}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	updated := decode[EntityView](t, w)
	if len(updated.Properties) != 2 || len(updated.Links) != 0 {
		t.Errorf("updated = %+v", updated)
	}

	w = do(t, router, http.MethodGet, base+"/types", nil)
	types := decode[[]models.EntityTypeView](t, w)
	if len(types) != 2 {
		t.Errorf("types = %+v, want Group and User", types)
	}

	if w := do(t, router, http.MethodDelete, base+"/entities/"+created.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, base+"/entities/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", w.Code)
	}
}

func TestEntityErrors(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing type", http.MethodPost, base + "/entities", EntityView{}, http.StatusBadRequest},
		{"bad property type", http.MethodPost, base + "/entities", EntityView{
			Type:       "User",
			Properties: []models.PropertyView{{Name: "n", Type: "blob", Value: "x"}},
		}, http.StatusBadRequest},
		{"bad integer", http.MethodPost, base + "/entities", EntityView{
			Type:       "User",
			Properties: []models.PropertyView{{Name: "n", Type: models.TypeInteger, Value: "abc"}},
		}, http.StatusBadRequest},
		{"malformed id", http.MethodGet, base + "/entities/abc", nil, http.StatusBadRequest},
		{"missing entity", http.MethodGet, base + "/entities/9-9", nil, http.StatusNotFound},
		{"bad query", http.MethodGet, base + "/entities?type=User&q=login%3D", nil, http.StatusBadRequest},
		{"bad offset", http.MethodGet, base + "/entities?type=User&offset=x", nil, http.StatusBadRequest},
		{"negative offset", http.MethodGet, base + "/entities?type=User&offset=-1", nil, http.StatusBadRequest},
	}
	for _, c := range cases {
		w := do(t, router, c.method, c.path, c.body)
		if w.Code != c.want {
			t.Errorf("%s: status = %d, want %d (body %s)", c.name, w.Code, c.want, w.Body.String())
			continue
		}
		if decode[errResponse](t, w).ErrorMessage == "" {
			t.Errorf("%s: empty errorMessage", c.name)
		}
	}
}

func TestSearchQueryAndPaging(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID

	for _, login := range []string{"alice", "bob", "bobby", "carol"} {
		if w := do(t, router, http.MethodPost, base+"/entities", userView(login)); w.Code != http.StatusCreated {
			t.Fatalf("create %s = %d", login, w.Code)
		}
	}

	pager := decode[SearchPager](t, do(t, router, http.MethodGet, base+"/entities?type=User&q=login~bob", nil))
	if pager.TotalCount != 2 {
		t.Errorf("login~bob total = %d, want 2", pager.TotalCount)
	}

	pager = decode[SearchPager](t, do(t, router, http.MethodGet, base+"/entities?type=User&offset=1&pageSize=2", nil))
	if pager.TotalCount != 4 || len(pager.Items) != 2 || pager.Items[0].Label != "bob" {
		t.Errorf("page = %+v", pager)
	}
}

func TestReadOnlyDatabase(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID
	created := decode[EntityView](t, do(t, router, http.MethodPost, base+"/entities", userView("bob")))

	readonly := true
	w := do(t, router, http.MethodPut, base, UpdateDatabaseRequest{IsReadonly: &readonly})
	if w.Code != http.StatusOK {
		t.Fatalf("update flags = %d, body = %s", w.Code, w.Body.String())
	}
	if !decode[DatabaseSummary](t, w).IsReadonly {
		t.Error("isReadonly not persisted")
	}

	if w := do(t, router, http.MethodPost, base+"/entities", userView("eve")); w.Code != http.StatusForbidden {
		t.Errorf("create on read-only = %d, want 403", w.Code)
	}
	if w := do(t, router, http.MethodDelete, base+"/entities/"+created.ID, nil); w.Code != http.StatusForbidden {
		t.Errorf("delete on read-only = %d, want 403", w.Code)
	}
	if w := do(t, router, http.MethodGet, base+"/entities/"+created.ID, nil); w.Code != http.StatusOK {
		t.Errorf("get on read-only = %d, want 200", w.Code)
	}
}

func TestUpdateDatabaseKeepsWorkingSettingsOnReopenFailure(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID
	created := decode[EntityView](t, do(t, router, http.MethodPost, base+"/entities", userView("bob")))

	// The store has no encryption, so this key cannot open it.
	key := strings.Repeat("0f", 16)
	if w := do(t, router, http.MethodPut, base, UpdateDatabaseRequest{Key: &key}); w.Code < 400 {
		t.Fatalf("update with wrong key = %d, want an error", w.Code)
	}

	got := decode[DatabaseSummary](t, do(t, router, http.MethodGet, base, nil))
	if !got.IsOpened || got.IsEncrypted {
		t.Errorf("after failed update = %+v, want opened and not encrypted", got)
	}
	if w := do(t, router, http.MethodGet, base+"/entities/"+created.ID, nil); w.Code != http.StatusOK {
		t.Errorf("get after failed update = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodPost, base+"/entities", userView("eve")); w.Code != http.StatusCreated {
		t.Errorf("create after failed update = %d, want 201", w.Code)
	}
}

func TestBlobUploadAndDownload(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID
	e := decode[EntityView](t, do(t, router, http.MethodPost, base+"/entities", EntityView{Type: "File"}))
	blobURL := base + "/entities/" + e.ID + "/blobs/content"

	req := httptest.NewRequest(http.MethodPut, blobURL, bytes.NewBufferString("raw bytes"))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("raw upload = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[models.BlobView](t, w); got.Size != 9 {
		t.Errorf("size = %d, want 9", got.Size)
	}

	w = do(t, router, http.MethodGet, blobURL, nil)
	if w.Code != http.StatusOK || w.Body.String() != "raw bytes" {
		t.Fatalf("download = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %q", ct)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "avatar.png")
	_, _ = part.Write([]byte("png data"))
	mw.Close()
	req = httptest.NewRequest(http.MethodPut, base+"/entities/"+e.ID+"/blobs/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("multipart upload = %d, body = %s", w.Code, w.Body.String())
	}

	view := decode[EntityView](t, do(t, router, http.MethodGet, base+"/entities/"+e.ID, nil))
	if len(view.Blobs) != 2 {
		t.Errorf("blobs = %+v, want avatar and content", view.Blobs)
	}

	var empty bytes.Buffer
	mw = multipart.NewWriter(&empty)
	mw.Close()
	req = httptest.NewRequest(http.MethodPut, blobURL, &empty)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("multipart without file = %d, want 400", w.Code)
	}

	if w := do(t, router, http.MethodGet, base+"/entities/"+e.ID+"/blobs/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing blob = %d, want 404", w.Code)
	}
}

func TestExportJobAndFiles(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID
	do(t, router, http.MethodPost, base+"/entities", userView("bob"))

	w := do(t, router, http.MethodPost, base+"/jobs", StartJobRequest{Kind: "export"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start export = %d, body = %s", w.Code, w.Body.String())
	}
	job := decode[Job](t, w)

	var done Job
	eventually(t, 10*time.Second, 20*time.Millisecond, func() bool {
		done = decode[Job](t, do(t, router, http.MethodGet, base+"/jobs/"+job.ID, nil))
		return done.Finished()
	}, "export job did not finish")
	if done.State != models.JobDone || done.Result == "" {
		t.Fatalf("job = %+v", done)
	}

	jobsList := decode[[]Job](t, do(t, router, http.MethodGet, base+"/jobs", nil))
	if len(jobsList) != 1 || jobsList[0].ID != job.ID {
		t.Errorf("jobs = %+v", jobsList)
	}

	files := decode[[]ExportFile](t, do(t, router, http.MethodGet, "/api/exports", nil))
	if len(files) != 1 || files[0].Name != done.Result {
		t.Fatalf("exports = %+v, want %s", files, done.Result)
	}

	w = do(t, router, http.MethodGet, "/api/exports/"+done.Result, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Errorf("download = %d (%d bytes)", w.Code, w.Body.Len())
	}

	w = do(t, router, http.MethodPost, base+"/jobs", StartJobRequest{Kind: "import", File: done.Result})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start import = %d, body = %s", w.Code, w.Body.String())
	}
	imp := decode[Job](t, w)
	eventually(t, 10*time.Second, 20*time.Millisecond, func() bool {
		return decode[Job](t, do(t, router, http.MethodGet, base+"/jobs/"+imp.ID, nil)).Finished()
	}, "import job did not finish")
	pager := decode[SearchPager](t, do(t, router, http.MethodGet, base+"/entities?type=User", nil))
	if pager.TotalCount != 2 {
		t.Errorf("after import total = %d, want 2", pager.TotalCount)
	}

	if w := do(t, router, http.MethodDelete, "/api/exports/"+done.Result, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete export = %d", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/api/exports/"+done.Result, nil); w.Code != http.StatusNotFound {
		t.Errorf("delete missing export = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/api/exports/..%2Fdatabases.json", nil); w.Code != http.StatusBadRequest {
		t.Errorf("traversal = %d, want 400", w.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID
	for _, login := range []string{"alice", "bob", "bobby"} {
		do(t, router, http.MethodPost, base+"/entities", userView(login))
	}

	w := do(t, router, http.MethodPost, base+"/jobs", StartJobRequest{Kind: "delete", Type: "User", Q: "login~bob"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start delete = %d, body = %s", w.Code, w.Body.String())
	}
	job := decode[Job](t, w)
	eventually(t, 10*time.Second, 20*time.Millisecond, func() bool {
		return decode[Job](t, do(t, router, http.MethodGet, base+"/jobs/"+job.ID, nil)).Finished()
	}, "delete job did not finish")

	pager := decode[SearchPager](t, do(t, router, http.MethodGet, base+"/entities?type=User", nil))
	if pager.TotalCount != 1 || pager.Items[0].Label != "alice" {
		t.Errorf("after delete = %+v", pager)
	}
}

func TestStartJobValidation(t *testing.T) {
	_, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})
	base := "/api/dbs/" + d.UUID

	cases := []struct {
		name string
		req  StartJobRequest
		want int
	}{
		{"unknown kind", StartJobRequest{Kind: "compact"}, http.StatusBadRequest},
		{"import without file", StartJobRequest{Kind: "import"}, http.StatusBadRequest},
		{"import missing file", StartJobRequest{Kind: "import", File: "gone.sqlite"}, http.StatusNotFound},
		{"delete without type", StartJobRequest{Kind: "delete"}, http.StatusBadRequest},
		{"delete bad query", StartJobRequest{Kind: "delete", Type: "User", Q: "login>="}, http.StatusBadRequest},
	}
	for _, c := range cases {
		if w := do(t, router, http.MethodPost, base+"/jobs", c.req); w.Code != c.want {
			t.Errorf("%s: status = %d, want %d (body %s)", c.name, w.Code, c.want, w.Body.String())
		}
	}

	if w := do(t, router, http.MethodGet, base+"/jobs/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, base+"/jobs/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel unknown job = %d, want 404", w.Code)
	}
}

func TestDeleteDatabase(t *testing.T) {
	reg, router := testEnv(t)
	d := register(t, router, RegisterDatabaseRequest{Open: true})

	if w := do(t, router, http.MethodDelete, "/api/dbs/"+d.UUID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if _, open := reg.Get(d.UUID); open {
		t.Error("deleted database still open")
	}
	if w := do(t, router, http.MethodGet, "/api/dbs/"+d.UUID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", w.Code)
	}

	// Location can be registered again and the lock is free.
	again := register(t, router, RegisterDatabaseRequest{Location: d.Location, Open: true})
	if again.UUID == d.UUID || !again.IsOpened {
		t.Errorf("re-register = %+v", again)
	}
}

type recordedEvents struct {
	mu    sync.Mutex
	kinds []string
}

func (e *recordedEvents) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (e *recordedEvents) PublishDatabase(kind string, _ models.DatabaseSummary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
}

func TestDatabaseChangesArePublished(t *testing.T) {
	events := &recordedEvents{}
	_, router := testEnvWithEvents(t, events)

	d := register(t, router, RegisterDatabaseRequest{})
	readonly := true
	do(t, router, http.MethodPut, "/api/dbs/"+d.UUID, UpdateDatabaseRequest{IsReadonly: &readonly})
	do(t, router, http.MethodDelete, "/api/dbs/"+d.UUID, nil)

	events.mu.Lock()
	defer events.mu.Unlock()
	if got := strings.Join(events.kinds, ","); got != "registered,updated,forgotten" {
		t.Errorf("events = %s", got)
	}

	if w := do(t, router, http.MethodGet, "/api/events", nil); w.Code != http.StatusOK {
		t.Errorf("events endpoint = %d", w.Code)
	}
}
