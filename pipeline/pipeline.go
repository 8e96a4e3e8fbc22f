// Package pipeline drives stored records through metadata scraping, image
// persistence and article extraction, and runs the periodic link sweep.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docutag/linkmeta/linkcheck"
	"github.com/docutag/linkmeta/models"
)

// ErrRecordNotFound is returned by a RecordStore for unknown IDs
var ErrRecordNotFound = errors.New("record not found")

// RecordStore persists URL records
type RecordStore interface {
	CreateRecord(ctx context.Context, url string) (*models.Record, error)
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	UpdateMetadata(ctx context.Context, id string, update models.MetadataUpdate) error
	UpdateArticle(ctx context.Context, id string, article *models.ArticleContent) error
	UpdateLinkStatus(ctx context.Context, id string, result models.LinkCheckResult, checkedAt time.Time) error
	ListLinkTargets(ctx context.Context) ([]linkcheck.Target, error)
}

// Engine is the subset of the scraper the pipeline drives
type Engine interface {
	ScrapeMetadata(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error)
	ExtractArticle(ctx context.Context, rawURL string) (*models.ArticleContent, error)
	ShouldExtractArticle(rawURL string) bool
}

// ImagePersister stores a record's preview image
type ImagePersister interface {
	Persist(ctx context.Context, imageURL, title string) (*models.StoredImage, error)
}

// ImageRecorder is implemented by stores that keep a row per stored image
type ImageRecorder interface {
	SaveImage(ctx context.Context, recordID string, img *models.StoredImage) error
}

// Config contains pipeline configuration
type Config struct {
	// ArticleDelay separates the metadata and article requests to one origin
	ArticleDelay time.Duration `yaml:"article_delay"`
	// BatchConcurrency bounds ProcessBatch when the caller passes zero
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		ArticleDelay:     2 * time.Second,
		BatchConcurrency: 4,
	}
}

// Pipeline processes records. Images is optional.
type Pipeline struct {
	store   RecordStore
	engine  Engine
	images  ImagePersister
	sweeper *linkcheck.Sweeper
	config  Config
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// New creates a Pipeline. images may be nil to skip image persistence.
func New(store RecordStore, engine Engine, images ImagePersister, checker linkcheck.LinkChecker, sweepDelay time.Duration, config Config) *Pipeline {
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = DefaultConfig().BatchConcurrency
	}
	if config.ArticleDelay < 0 {
		config.ArticleDelay = 0
	}
	return &Pipeline{
		store:   store,
		engine:  engine,
		images:  images,
		sweeper: linkcheck.NewSweeper(checker, sweepDelay),
		config:  config,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// ProcessRecord scrapes metadata for the record, then extracts the article
// after ArticleDelay if the URL is an article candidate. A metadata failure
// marks the record ERROR and is returned. Image and article failures are
// logged and leave the record READY.
func (p *Pipeline) ProcessRecord(ctx context.Context, id string) error {
	record, err := p.store.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}

	logger := slog.With("record_id", id, "url", record.URL)

	meta, err := p.engine.ScrapeMetadata(ctx, record.URL)
	if err != nil {
		logger.Warn("metadata scrape failed", "error", err)
		update := models.MetadataUpdate{Status: models.StatusError, Error: err.Error()}
		if uerr := p.store.UpdateMetadata(ctx, id, update); uerr != nil {
			return fmt.Errorf("failed to save metadata error: %w", uerr)
		}
		return fmt.Errorf("failed to scrape metadata: %w", err)
	}

	update := models.MetadataUpdate{Status: models.StatusReady, Metadata: meta}
	if p.images != nil && meta.Image != nil {
		stored, err := p.images.Persist(ctx, *meta.Image, models.Deref(meta.Title))
		if err != nil {
			logger.Warn("preview image not stored", "image", *meta.Image, "error", err)
		} else {
			update.ImagePath = stored.Path
			if recorder, ok := p.store.(ImageRecorder); ok {
				if err := recorder.SaveImage(ctx, id, stored); err != nil {
					logger.Warn("failed to record stored image", "path", stored.Path, "error", err)
				}
			}
		}
	}
	if err := p.store.UpdateMetadata(ctx, id, update); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	logger.Info("metadata saved", "title", models.Deref(meta.Title))

	if !p.engine.ShouldExtractArticle(record.URL) {
		return nil
	}
	if err := p.sleep(ctx, p.config.ArticleDelay); err != nil {
		return err
	}

	article, err := p.engine.ExtractArticle(ctx, record.URL)
	if err != nil {
		logger.Warn("article extraction failed", "error", err)
		return nil
	}
	if article.TextContent == nil {
		logger.Debug("no article content found")
		return nil
	}
	if err := p.store.UpdateArticle(ctx, id, article); err != nil {
		return fmt.Errorf("failed to save article: %w", err)
	}
	logger.Info("article saved", "word_count", article.WordCount)
	return nil
}

// ProcessBatch processes ids with at most concurrency records in flight.
// Individual failures are logged and counted; only cancellation aborts the
// batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, ids []string, concurrency int) (failed int, err error) {
	if concurrency <= 0 {
		concurrency = p.config.BatchConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]error, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.ProcessRecord(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i, rerr := range results {
		if rerr != nil {
			failed++
			slog.Warn("batch record failed", "record_id", ids[i], "error", rerr)
		}
	}
	slog.Info("batch processed", "records", len(ids), "failed", failed)
	return failed, nil
}

// RunLinkSweep checks every stored link serially and writes each result back
func (p *Pipeline) RunLinkSweep(ctx context.Context) (linkcheck.Summary, error) {
	targets, err := p.store.ListLinkTargets(ctx)
	if err != nil {
		return linkcheck.Summary{}, fmt.Errorf("failed to list link targets: %w", err)
	}

	return p.sweeper.Sweep(ctx, targets, func(target linkcheck.Target, result models.LinkCheckResult) {
		if err := p.store.UpdateLinkStatus(ctx, target.ID, result, p.now()); err != nil {
			slog.Warn("failed to save link status", "record_id", target.ID, "error", err)
		}
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
