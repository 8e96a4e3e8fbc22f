package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docutag/linkmeta/models"
)

type fakeEngine struct {
	mu           sync.Mutex
	metaErr      error
	articleErr   error
	extract      bool
	article      *models.ArticleContent
	articleCalls int
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
	hold         time.Duration
}

func (f *fakeEngine) ScrapeMetadata(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	if f.metaErr != nil {
		return nil, f.metaErr
	}
	image := "https://cdn.example.com/cover.jpg"
	return &models.ScrapedMetadata{
		Title:  models.StringPtr("Example Title"),
		Image:  &image,
		Images: []string{image},
		Domain: "example.com",
	}, nil
}

func (f *fakeEngine) ExtractArticle(ctx context.Context, rawURL string) (*models.ArticleContent, error) {
	f.mu.Lock()
	f.articleCalls++
	f.mu.Unlock()
	if f.articleErr != nil {
		return nil, f.articleErr
	}
	if f.article != nil {
		return f.article, nil
	}
	a := &models.ArticleContent{}
	a.SetText("some article words here")
	return a, nil
}

func (f *fakeEngine) ShouldExtractArticle(rawURL string) bool { return f.extract }

type fakeImages struct {
	err   error
	calls []string
}

func (f *fakeImages) Persist(ctx context.Context, imageURL, title string) (*models.StoredImage, error) {
	f.calls = append(f.calls, imageURL+"|"+title)
	if f.err != nil {
		return nil, f.err
	}
	return &models.StoredImage{ID: "img", SourceURL: imageURL, Path: "previews/2024/01/example-title.jpg"}, nil
}

type fakeChecker struct {
	results map[string]models.LinkCheckResult
}

func (f *fakeChecker) Check(ctx context.Context, rawURL string) models.LinkCheckResult {
	if r, ok := f.results[rawURL]; ok {
		return r
	}
	return models.LinkCheckResult{Status: models.LinkOK}
}

func newTestPipeline(store RecordStore, engine Engine, images ImagePersister, checker *fakeChecker) (*Pipeline, *[]time.Duration) {
	if checker == nil {
		checker = &fakeChecker{}
	}
	p := New(store, engine, images, checker, time.Millisecond, DefaultConfig())
	var sleeps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return p, &sleeps
}

func createRecord(t *testing.T, store *MemoryStore, url string) string {
	t.Helper()
	rec, err := store.CreateRecord(context.Background(), url)
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	return rec.ID
}

func TestProcessRecordMetadataThenArticle(t *testing.T) {
	store := NewMemoryStore()
	id := createRecord(t, store, "https://example.com/story")
	engine := &fakeEngine{extract: true}
	images := &fakeImages{}
	p, sleeps := newTestPipeline(store, engine, images, nil)

	if err := p.ProcessRecord(context.Background(), id); err != nil {
		t.Fatalf("ProcessRecord failed: %v", err)
	}

	rec, _ := store.GetRecord(context.Background(), id)
	if rec.Status != models.StatusReady {
		t.Errorf("Status = %s, want READY", rec.Status)
	}
	if models.Deref(rec.Metadata.Title) != "Example Title" {
		t.Errorf("metadata title = %v", rec.Metadata.Title)
	}
	if rec.ImagePath != "previews/2024/01/example-title.jpg" {
		t.Errorf("ImagePath = %q", rec.ImagePath)
	}
	if rec.Article == nil || rec.Article.WordCount != 4 {
		t.Errorf("Article = %+v, want 4 words", rec.Article)
	}
	if len(images.calls) != 1 || images.calls[0] != "https://cdn.example.com/cover.jpg|Example Title" {
		t.Errorf("image calls = %v", images.calls)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want one 2s article delay", *sleeps)
	}
}

func TestProcessRecordMetadataFailure(t *testing.T) {
	store := NewMemoryStore()
	id := createRecord(t, store, "https://example.com/down")
	engine := &fakeEngine{metaErr: errors.New("connection refused"), extract: true}
	p, _ := newTestPipeline(store, engine, nil, nil)

	if err := p.ProcessRecord(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}

	rec, _ := store.GetRecord(context.Background(), id)
	if rec.Status != models.StatusError {
		t.Errorf("Status = %s, want ERROR", rec.Status)
	}
	if rec.Error != "connection refused" {
		t.Errorf("Error = %q", rec.Error)
	}
	if engine.articleCalls != 0 {
		t.Error("article extraction should not run after a metadata failure")
	}
}

func TestProcessRecordArticleFailureStaysReady(t *testing.T) {
	store := NewMemoryStore()
	id := createRecord(t, store, "https://example.com/slow")
	engine := &fakeEngine{extract: true, articleErr: errors.New("article timed out")}
	p, _ := newTestPipeline(store, engine, nil, nil)

	if err := p.ProcessRecord(context.Background(), id); err != nil {
		t.Fatalf("ProcessRecord failed: %v", err)
	}

	rec, _ := store.GetRecord(context.Background(), id)
	if rec.Status != models.StatusReady {
		t.Errorf("Status = %s, want READY", rec.Status)
	}
	if rec.Article != nil {
		t.Errorf("Article = %+v, want nil", rec.Article)
	}
}

func TestProcessRecordSkipsEmptyArticle(t *testing.T) {
	store := NewMemoryStore()
	id := createRecord(t, store, "https://example.com/empty")
	engine := &fakeEngine{extract: true, article: &models.ArticleContent{}}
	p, _ := newTestPipeline(store, engine, nil, nil)

	if err := p.ProcessRecord(context.Background(), id); err != nil {
		t.Fatalf("ProcessRecord failed: %v", err)
	}
	rec, _ := store.GetRecord(context.Background(), id)
	if rec.Article != nil {
		t.Errorf("Article = %+v, want nil", rec.Article)
	}
}

func TestProcessRecordNonArticleURL(t *testing.T) {
	store := NewMemoryStore()
	id := createRecord(t, store, "https://www.youtube.com/watch?v=abc")
	engine := &fakeEngine{extract: false}
	p, sleeps := newTestPipeline(store, engine, nil, nil)

	if err := p.ProcessRecord(context.Background(), id); err != nil {
		t.Fatalf("ProcessRecord failed: %v", err)
	}
	if engine.articleCalls != 0 {
		t.Error("article extraction should be skipped")
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
}

func TestProcessRecordImageFailureStillReady(t *testing.T) {
	store := NewMemoryStore()
	id := createRecord(t, store, "https://example.com/page")
	p, _ := newTestPipeline(store, &fakeEngine{}, &fakeImages{err: errors.New("too large")}, nil)

	if err := p.ProcessRecord(context.Background(), id); err != nil {
		t.Fatalf("ProcessRecord failed: %v", err)
	}
	rec, _ := store.GetRecord(context.Background(), id)
	if rec.Status != models.StatusReady || rec.ImagePath != "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestProcessRecordUnknownID(t *testing.T) {
	p, _ := newTestPipeline(NewMemoryStore(), &fakeEngine{}, nil, nil)
	if err := p.ProcessRecord(context.Background(), "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestProcessBatchBoundsConcurrency(t *testing.T) {
	store := NewMemoryStore()
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, createRecord(t, store, "https://example.com/page"))
	}
	ids = append(ids, "missing")

	engine := &fakeEngine{hold: 20 * time.Millisecond}
	p, _ := newTestPipeline(store, engine, nil, nil)

	failed, err := p.ProcessBatch(context.Background(), ids, 2)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if got := engine.maxInFlight.Load(); got > 2 {
		t.Errorf("max in flight = %d, want <= 2", got)
	}
	for _, id := range ids[:8] {
		rec, _ := store.GetRecord(context.Background(), id)
		if rec.Status != models.StatusReady {
			t.Errorf("record %s status = %s", id, rec.Status)
		}
	}
}

func TestProcessBatchCanceled(t *testing.T) {
	store := NewMemoryStore()
	id := createRecord(t, store, "https://example.com/page")
	p, _ := newTestPipeline(store, &fakeEngine{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ProcessBatch(ctx, []string{id}, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunLinkSweep(t *testing.T) {
	store := NewMemoryStore()
	okID := createRecord(t, store, "https://example.com/fine")
	movedID := createRecord(t, store, "https://example.com/moved")
	pendingID := createRecord(t, store, "https://example.com/pending")

	ctx := context.Background()
	for _, id := range []string{okID, movedID} {
		if err := store.UpdateMetadata(ctx, id, models.MetadataUpdate{Status: models.StatusReady}); err != nil {
			t.Fatal(err)
		}
	}

	target := "https://example.com/new-home"
	checker := &fakeChecker{results: map[string]models.LinkCheckResult{
		"https://example.com/moved": {Status: models.LinkRedirected, RedirectURL: &target},
	}}
	p, _ := newTestPipeline(store, &fakeEngine{}, nil, checker)
	checkedAt := time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return checkedAt }

	summary, err := p.RunLinkSweep(ctx)
	if err != nil {
		t.Fatalf("RunLinkSweep failed: %v", err)
	}
	if summary.Checked != 2 || summary.OK != 1 || summary.Redirected != 1 {
		t.Errorf("summary = %+v", summary)
	}

	moved, _ := store.GetRecord(ctx, movedID)
	if moved.LinkStatus != models.LinkRedirected || models.Deref(moved.RedirectURL) != target {
		t.Errorf("moved record = %+v", moved)
	}
	if moved.LinkCheckedAt == nil || !moved.LinkCheckedAt.Equal(checkedAt) {
		t.Errorf("LinkCheckedAt = %v", moved.LinkCheckedAt)
	}

	pending, _ := store.GetRecord(ctx, pendingID)
	if pending.LinkStatus != "" {
		t.Errorf("pending record should not be checked, got %s", pending.LinkStatus)
	}
}

func TestMemoryStoreLinkTargetOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := createRecord(t, store, "https://a.example.com")
	b := createRecord(t, store, "https://b.example.com")
	for _, id := range []string{a, b} {
		store.UpdateMetadata(ctx, id, models.MetadataUpdate{Status: models.StatusReady})
	}
	store.UpdateLinkStatus(ctx, a, models.LinkCheckResult{Status: models.LinkOK}, time.Now())

	targets, err := store.ListLinkTargets(ctx)
	if err != nil {
		t.Fatalf("ListLinkTargets failed: %v", err)
	}
	if len(targets) != 2 || targets[0].ID != b || targets[1].ID != a {
		t.Errorf("targets = %+v, want never-checked record first", targets)
	}
}
