// Package db stores link records in PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/docutag/linkmeta/linkcheck"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/pipeline"
)

// DB wraps the database connection and implements pipeline.RecordStore
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN builds a lib/pq connection string
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslMode)
}

// Open connects with dsn, configures the pool and runs pending migrations
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// CreateRecord inserts a PENDING record for url
func (db *DB) CreateRecord(ctx context.Context, url string) (*models.Record, error) {
	now := time.Now().UTC()
	rec := &models.Record{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO link_records (id, url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.URL, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return rec, nil
}

// GetRecord loads a record by ID
func (db *DB) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var (
		rec           models.Record
		status        string
		linkStatus    string
		metadataJSON  sql.NullString
		articleJSON   sql.NullString
		redirectURL   sql.NullString
		linkCheckedAt sql.NullTime
	)

	err := db.conn.QueryRowContext(ctx, `
		SELECT id, url, status, metadata, article, image_path, error,
		       link_status, redirect_url, link_checked_at, created_at, updated_at
		FROM link_records
		WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.URL, &status, &metadataJSON, &articleJSON, &rec.ImagePath, &rec.Error,
		&linkStatus, &redirectURL, &linkCheckedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec.Status = models.RecordStatus(status)
	rec.LinkStatus = models.LinkStatus(linkStatus)
	if redirectURL.Valid {
		rec.RedirectURL = &redirectURL.String
	}
	if linkCheckedAt.Valid {
		rec.LinkCheckedAt = &linkCheckedAt.Time
	}
	if metadataJSON.Valid {
		var m models.ScrapedMetadata
		if err := json.Unmarshal([]byte(metadataJSON.String), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		rec.Metadata = &m
	}
	if articleJSON.Valid {
		var a models.ArticleContent
		if err := json.Unmarshal([]byte(articleJSON.String), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal article: %w", err)
		}
		rec.Article = &a
	}
	return &rec, nil
}

// UpdateMetadata stores the metadata stage outcome. An empty ImagePath keeps
// the previously stored image.
func (db *DB) UpdateMetadata(ctx context.Context, id string, u models.MetadataUpdate) error {
	metadataJSON, err := nullableJSON(u.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE link_records
		SET status = $2,
		    metadata = $3,
		    error = $4,
		    image_path = CASE WHEN $5::text = '' THEN image_path ELSE $5::text END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(u.Status), metadataJSON, u.Error, u.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return expectRow(res, id)
}

// UpdateArticle stores extracted article content
func (db *DB) UpdateArticle(ctx context.Context, id string, article *models.ArticleContent) error {
	articleJSON, err := nullableJSON(article)
	if err != nil {
		return fmt.Errorf("failed to marshal article: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE link_records SET article = $2, updated_at = NOW() WHERE id = $1
	`, id, articleJSON)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	return expectRow(res, id)
}

// UpdateLinkStatus stores a link health result
func (db *DB) UpdateLinkStatus(ctx context.Context, id string, result models.LinkCheckResult, checkedAt time.Time) error {
	var redirectURL sql.NullString
	if result.RedirectURL != nil {
		redirectURL = sql.NullString{String: *result.RedirectURL, Valid: true}
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE link_records
		SET link_status = $2, redirect_url = $3, link_checked_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, string(result.Status), redirectURL, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to update link status: %w", err)
	}
	return expectRow(res, id)
}

// ListLinkTargets returns READY records, least recently checked first
func (db *DB) ListLinkTargets(ctx context.Context) ([]linkcheck.Target, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, url FROM link_records
		WHERE status = $1
		ORDER BY link_checked_at ASC NULLS FIRST, created_at ASC
	`, string(models.StatusReady))
	if err != nil {
		return nil, fmt.Errorf("failed to list link targets: %w", err)
	}
	defer rows.Close()

	var targets []linkcheck.Target
	for rows.Next() {
		var t linkcheck.Target
		if err := rows.Scan(&t.ID, &t.URL); err != nil {
			return nil, fmt.Errorf("failed to scan link target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// SaveImage records a persisted preview image for a record
func (db *DB) SaveImage(ctx context.Context, recordID string, img *models.StoredImage) error {
	exifJSON, err := nullableJSON(img.EXIF)
	if err != nil {
		return fmt.Errorf("failed to marshal EXIF data: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO stored_images (id, record_id, source_url, path, content_type, width, height, size_bytes, exif_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, img.ID, recordID, img.SourceURL, img.Path, img.ContentType, img.Width, img.Height, img.SizeBytes, exifJSON)
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// CountImages returns the number of stored preview images
func (db *DB) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM stored_images").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return n, nil
}

// nullableJSON marshals v, mapping nil pointers to SQL NULL
func nullableJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", pipeline.ErrRecordNotFound, id)
	}
	return nil
}
