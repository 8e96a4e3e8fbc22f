package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docutag/linkmeta"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/pipeline"
	"github.com/docutag/linkmeta/scheduler"
	"github.com/docutag/linkmeta/storage"
	"github.com/docutag/linkmeta/urlguard"
)

const recordPage = `<html><head>
<title>Fallback</title>
<meta property="og:title" content="Record Page">
<meta property="og:description" content="A page worth keeping">
</head><body><article>` + "%s" + `</article></body></html>`

func articleBody() string {
	return "<p>" + strings.Repeat("Readers keep coming back to this paragraph. ", 40) + "</p>"
}

type testEnv struct {
	server  *Server
	records *pipeline.MemoryStore
	images  *storage.FileStore
}

func engineConfig() linkmeta.Config {
	cfg := linkmeta.DefaultConfig()
	cfg.Guard = urlguard.Guard{AllowPrivate: true}
	cfg.Fetch.Timeout = 5 * time.Second
	return cfg
}

func setupTestServer(t *testing.T, cfg Config, engineCfg linkmeta.Config, sweep SweepRunner) *testEnv {
	t.Helper()

	engine := linkmeta.New(engineCfg)
	records := pipeline.NewMemoryStore()
	images, err := storage.NewFileStore(storage.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	proc := pipeline.New(records, engine, nil, engine.LinkChecker(), time.Millisecond, pipeline.Config{ArticleDelay: 0})

	deps := Deps{Engine: engine, Records: records, Processor: proc, Images: images}
	if sweep != nil {
		deps.Sweep = sweep
	}
	server := NewServer(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})
	return &testEnv{server: server, records: records, images: images}
}

func defaultEnv(t *testing.T) *testEnv {
	return setupTestServer(t, DefaultConfig(), engineConfig(), nil)
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func TestHandleHealth(t *testing.T) {
	env := defaultEnv(t)
	w := do(t, env.server.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[map[string]any](t, w)["status"]; got != "healthy" {
		t.Errorf("status field = %v", got)
	}

	w = do(t, env.server.Handler(), http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health status = %d, want 405", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := defaultEnv(t)
	do(t, env.server.Handler(), http.MethodGet, "/health", nil)

	w := do(t, env.server.Handler(), http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "linkmeta_http_requests_total") {
		t.Error("metrics output missing linkmeta_http_requests_total")
	}
}

func TestRequestDecoding(t *testing.T) {
	env := defaultEnv(t)

	tests := []struct {
		name       string
		method     string
		body       any
		wantStatus int
		wantErr    string
	}{
		{"GET method not allowed", http.MethodGet, nil, http.StatusMethodNotAllowed, "method not allowed"},
		{"invalid JSON", http.MethodPost, "invalid json", http.StatusBadRequest, "invalid request body"},
		{"missing URL", http.MethodPost, URLRequest{}, http.StatusBadRequest, "url is required"},
	}

	for _, path := range []string{"/api/validate", "/api/classify", "/api/metadata", "/api/article", "/api/check-link"} {
		for _, tt := range tests {
			t.Run(path+" "+tt.name, func(t *testing.T) {
				w := do(t, env.server.Handler(), tt.method, path, tt.body)
				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if got := errorMessage(t, w); got != tt.wantErr {
					t.Errorf("error = %q, want %q", got, tt.wantErr)
				}
			})
		}
	}
}

func TestHandleValidate(t *testing.T) {
	env := setupTestServer(t, DefaultConfig(), linkmeta.DefaultConfig(), nil)

	tests := []struct {
		url        string
		wantStatus int
		wantValid  bool
	}{
		{"https://example.com/a", http.StatusOK, true},
		{"ftp://example.com/file", http.StatusBadRequest, false},
		{"http://127.0.0.1/admin", http.StatusBadRequest, false},
		{"http://[::1]:8080/", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		w := do(t, env.server.Handler(), http.MethodPost, "/api/validate", URLRequest{URL: tt.url})
		if w.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.url, w.Code, tt.wantStatus)
		}
		resp := decode[ValidateResponse](t, w)
		if resp.Valid != tt.wantValid {
			t.Errorf("%s: valid = %v, want %v", tt.url, resp.Valid, tt.wantValid)
		}
		if !resp.Valid && resp.Error == "" {
			t.Errorf("%s: expected an error message", tt.url)
		}
	}
}

func TestHandleClassify(t *testing.T) {
	env := defaultEnv(t)

	tests := []struct {
		url         string
		platform    models.Platform
		wantArticle bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", models.PlatformYouTube, false},
		{"https://en.wikipedia.org/wiki/Go_(programming_language)", models.PlatformWikipedia, true},
		{"https://blog.example.com/2024/05/post", models.PlatformGeneric, true},
	}

	for _, tt := range tests {
		w := do(t, env.server.Handler(), http.MethodPost, "/api/classify", URLRequest{URL: tt.url})
		resp := decode[ClassifyResponse](t, w)
		if resp.Platform != tt.platform || resp.ExtractArticle != tt.wantArticle {
			t.Errorf("%s: got %+v, want %s/%v", tt.url, resp, tt.platform, tt.wantArticle)
		}
	}
}

func TestHandleMetadata(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, recordPage, articleBody())
	}))
	defer page.Close()

	env := defaultEnv(t)
	w := do(t, env.server.Handler(), http.MethodPost, "/api/metadata", URLRequest{URL: page.URL + "/story"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	meta := decode[models.ScrapedMetadata](t, w)
	if models.Deref(meta.Title) != "Record Page" {
		t.Errorf("title = %v", meta.Title)
	}
	if models.Deref(meta.Description) != "A page worth keeping" {
		t.Errorf("description = %v", meta.Description)
	}
}

func TestHandleMetadataErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	guarded := setupTestServer(t, DefaultConfig(), linkmeta.DefaultConfig(), nil)
	w := do(t, guarded.server.Handler(), http.MethodPost, "/api/metadata", URLRequest{URL: "http://10.0.0.5/internal"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("private URL status = %d, want 400", w.Code)
	}

	env := defaultEnv(t)
	w = do(t, env.server.Handler(), http.MethodPost, "/api/metadata", URLRequest{URL: upstream.URL + "/broken"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d, want 502", w.Code)
	}
}

func TestHandleArticle(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, recordPage, articleBody())
	}))
	defer page.Close()

	env := defaultEnv(t)
	w := do(t, env.server.Handler(), http.MethodPost, "/api/article", URLRequest{URL: page.URL + "/story"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	content := decode[models.ArticleContent](t, w)
	if content.WordCount < 280 {
		t.Errorf("wordCount = %d, want at least 280", content.WordCount)
	}
	if content.ReadingTime != 2 {
		t.Errorf("readingTime = %d, want 2", content.ReadingTime)
	}
}

func TestHandleArticleTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer slow.Close()
	defer close(release)

	engineCfg := engineConfig()
	engineCfg.Article.Timeout = 100 * time.Millisecond
	env := setupTestServer(t, DefaultConfig(), engineCfg, nil)

	w := do(t, env.server.Handler(), http.MethodPost, "/api/article", URLRequest{URL: slow.URL + "/slow"})
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestHandleCheckLink(t *testing.T) {
	env := defaultEnv(t)

	w := do(t, env.server.Handler(), http.MethodPost, "/api/check-link", URLRequest{URL: "https://twitter.com/golang/status/1234567890"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[models.LinkCheckResult](t, w); got.Status != models.LinkOK {
		t.Errorf("status = %s, want ok", got.Status)
	}

	w = do(t, env.server.Handler(), http.MethodPost, "/api/check-link", URLRequest{URL: "not a url"})
	if got := decode[models.LinkCheckResult](t, w); got.Status != models.LinkError {
		t.Errorf("status = %s, want error", got.Status)
	}
}

func TestRecordsWait(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, recordPage, articleBody())
	}))
	defer page.Close()

	env := defaultEnv(t)
	h := env.server.Handler()

	w := do(t, h, http.MethodPost, "/api/records", CreateRecordRequest{URL: page.URL + "/story", Wait: true})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	rec := decode[models.Record](t, w)
	if rec.Status != models.StatusReady {
		t.Errorf("Status = %s, want READY", rec.Status)
	}
	if rec.Metadata == nil || models.Deref(rec.Metadata.Title) != "Record Page" {
		t.Errorf("Metadata = %+v", rec.Metadata)
	}
	if rec.Article == nil || rec.Article.WordCount < 280 {
		t.Errorf("Article = %+v", rec.Article)
	}

	w = do(t, h, http.MethodGet, "/api/records/"+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET record status = %d", w.Code)
	}
	if got := decode[models.Record](t, w); got.ID != rec.ID {
		t.Errorf("GET record id = %q", got.ID)
	}

	w = do(t, h, http.MethodPost, "/api/records/"+rec.ID+"/refresh?wait=true", nil)
	if w.Code != http.StatusOK {
		t.Errorf("refresh status = %d", w.Code)
	}
}

func TestRecordsErrors(t *testing.T) {
	env := defaultEnv(t)
	h := env.server.Handler()

	if w := do(t, h, http.MethodGet, "/api/records/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET missing status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/records/missing/refresh", nil); w.Code != http.StatusNotFound {
		t.Errorf("refresh missing status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/records", CreateRecordRequest{URL: "javascript:alert(1)"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid URL status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/records", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/records status = %d, want 405", w.Code)
	}
}

func TestRecordProcessedInBackground(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, recordPage, articleBody())
	}))
	defer page.Close()

	env := defaultEnv(t)
	w := do(t, env.server.Handler(), http.MethodPost, "/api/records", CreateRecordRequest{URL: page.URL + "/story"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	rec := decode[models.Record](t, w)
	if rec.Status != models.StatusPending {
		t.Errorf("Status = %s, want PENDING", rec.Status)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		stored, err := env.records.GetRecord(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}
		if stored.Status == models.StatusReady {
			break
		}
		if stored.Status == models.StatusError || time.Now().After(deadline) {
			t.Fatalf("Status = %s, want READY", stored.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	env := setupTestServer(t, cfg, engineConfig(), nil)
	h := env.server.Handler()

	body := URLRequest{URL: "https://twitter.com/golang/status/1"}
	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodPost, "/api/check-link", body); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := do(t, h, http.MethodPost, "/api/check-link", body)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if got := errorMessage(t, w); got != "rate limit exceeded" {
		t.Errorf("error = %q", got)
	}

	// Pure validation is not limited
	if w := do(t, h, http.MethodPost, "/api/validate", body); w.Code != http.StatusOK {
		t.Errorf("validate status = %d, want 200", w.Code)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, false)
	if !rl.Allow("198.51.100.1") {
		t.Fatal("first request should pass")
	}
	if rl.Allow("198.51.100.1") {
		t.Error("second request from the same client should be limited")
	}
	if !rl.Allow("198.51.100.2") {
		t.Error("other clients have their own bucket")
	}
}

func TestRateLimiterClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	if got := NewRateLimiter(1, 1, false).clientIP(req); got != "203.0.113.9" {
		t.Errorf("untrusted clientIP = %q", got)
	}
	if got := NewRateLimiter(1, 1, true).clientIP(req); got != "198.51.100.7" {
		t.Errorf("trusted clientIP = %q", got)
	}
}

func TestHandleImage(t *testing.T) {
	env := defaultEnv(t)
	data := []byte("\x89PNG\r\n\x1a\nrest-of-image")
	key, err := env.images.SaveImage(context.Background(), data, "cover", "image/png")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	w := do(t, env.server.Handler(), http.MethodGet, "/api/images/"+key, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Error("body differs from stored image")
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	w = do(t, env.server.Handler(), http.MethodGet, "/api/images/previews/2000/01/missing.png", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing image status = %d, want 404", w.Code)
	}
}

type sweepFunc func(ctx context.Context) error

func (f sweepFunc) RunNow(ctx context.Context) error { return f(ctx) }

func TestHandleLinkSweep(t *testing.T) {
	tests := []struct {
		name       string
		sweep      SweepRunner
		wantStatus int
	}{
		{"not configured", nil, http.StatusNotFound},
		{"completed", sweepFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"busy", sweepFunc(func(context.Context) error { return scheduler.ErrAlreadyRunning }), http.StatusConflict},
		{"failed", sweepFunc(func(context.Context) error { return errors.New("db down") }), http.StatusBadGateway},
		{"long running", sweepFunc(func(ctx context.Context) error {
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			return nil
		}), http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, DefaultConfig(), engineConfig(), tt.sweep)
			w := do(t, env.server.Handler(), http.MethodPost, "/api/link-sweep", nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	env := defaultEnv(t)
	w := do(t, env.server.Handler(), http.MethodOptions, "/api/metadata", nil)
	if w.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	cfg := DefaultConfig()
	cfg.CORSEnabled = false
	noCORS := setupTestServer(t, cfg, engineConfig(), nil)
	w = do(t, noCORS.server.Handler(), http.MethodGet, "/health", nil)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&urlguard.ValidationError{URL: "x", Reason: urlguard.ErrMalformedURL}, http.StatusBadRequest},
		{fmt.Errorf("load: %w", pipeline.ErrRecordNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
