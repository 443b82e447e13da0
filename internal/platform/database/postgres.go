package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"propleads/internal/platform/config"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

var DB *sql.DB

func Connect() {
	var err error
	DB, err = sql.Open("pgx", config.AppConfig.DBConnStr)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err = DB.Ping(); err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}

	fmt.Println("Successfully connected to PostgreSQL database!")
}

// InitSchema creates the tables the back office needs. Idempotent; safe to
// run on every startup.
func InitSchema() {
	schema := `
	CREATE TABLE IF NOT EXISTS operators (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'operator',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS batch_jobs (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'PENDING',
		criteria JSONB NOT NULL,
		is_parent BOOLEAN NOT NULL DEFAULT FALSE,
		parent_id BIGINT REFERENCES batch_jobs(id) ON DELETE CASCADE,
		batch_number INTEGER NOT NULL DEFAULT 0,
		batch_offset INTEGER NOT NULL DEFAULT 0,
		batch_size INTEGER NOT NULL DEFAULT 0,
		total_records INTEGER NOT NULL DEFAULT 0,
		processed_records INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		error_details TEXT,
		locked_at TIMESTAMPTZ,
		locked_by TEXT,
		next_attempt_at TIMESTAMPTZ,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_batch_jobs_claim
		ON batch_jobs (status, priority DESC, created_at ASC) WHERE is_parent = FALSE;
	CREATE INDEX IF NOT EXISTS idx_batch_jobs_parent ON batch_jobs (parent_id);

	CREATE TABLE IF NOT EXISTS job_logs (
		id BIGSERIAL PRIMARY KEY,
		job_id BIGINT NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
		level TEXT NOT NULL DEFAULT 'INFO',
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs (job_id, created_at);

	CREATE TABLE IF NOT EXISTS properties (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		owner_name TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		raw_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (provider, external_id)
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS campaign_recipients (
		id BIGSERIAL PRIMARY KEY,
		campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		property_id BIGINT NOT NULL REFERENCES properties(id),
		owner_name TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		UNIQUE (campaign_id, property_id)
	);

	CREATE TABLE IF NOT EXISTS do_not_mail (
		id BIGSERIAL PRIMARY KEY,
		street TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (street, zip)
	);
	`
	if _, err := DB.Exec(schema); err != nil {
		log.Fatalf("Error initializing schema: %v", err)
	}
}

func Close() {
	if DB != nil {
		DB.Close()
		fmt.Println("Database connection closed.")
	}
}
