package db

// PostgreSQL migrations for linkmeta

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_link_records_table",
		Up: `
			CREATE TABLE IF NOT EXISTS link_records (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'PENDING',
				metadata TEXT,
				article TEXT,
				image_path TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_link_records_url ON link_records(url);
			CREATE INDEX IF NOT EXISTS idx_link_records_status ON link_records(status);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_link_records_status;
			DROP INDEX IF EXISTS idx_link_records_url;
			DROP TABLE IF EXISTS link_records;
		`,
	},
	{
		Version: 2,
		Name:    "add_link_health_columns",
		Up: `
			ALTER TABLE link_records ADD COLUMN IF NOT EXISTS link_status TEXT NOT NULL DEFAULT '';
			ALTER TABLE link_records ADD COLUMN IF NOT EXISTS redirect_url TEXT;
			ALTER TABLE link_records ADD COLUMN IF NOT EXISTS link_checked_at TIMESTAMPTZ;
			CREATE INDEX IF NOT EXISTS idx_link_records_link_checked_at ON link_records(link_checked_at NULLS FIRST);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_link_records_link_checked_at;
			ALTER TABLE link_records DROP COLUMN IF EXISTS link_checked_at;
			ALTER TABLE link_records DROP COLUMN IF EXISTS redirect_url;
			ALTER TABLE link_records DROP COLUMN IF EXISTS link_status;
		`,
	},
	{
		Version: 3,
		Name:    "create_stored_images_table",
		Up: `
			CREATE TABLE IF NOT EXISTS stored_images (
				id TEXT PRIMARY KEY,
				record_id TEXT NOT NULL REFERENCES link_records(id) ON DELETE CASCADE,
				source_url TEXT NOT NULL,
				path TEXT NOT NULL,
				content_type TEXT NOT NULL,
				width INTEGER NOT NULL DEFAULT 0,
				height INTEGER NOT NULL DEFAULT 0,
				size_bytes BIGINT NOT NULL DEFAULT 0,
				exif_data TEXT,
				created_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_stored_images_record_id ON stored_images(record_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_stored_images_record_id;
			DROP TABLE IF EXISTS stored_images;
		`,
	},
}
