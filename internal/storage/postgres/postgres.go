package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
	"github.com/mediakeep/upload-service/internal/config"
)

// Postgres backs the dedup gate with the media-metadata index. The index is
// written by the media-processing pipeline after upload completion; the
// orchestrator only reads it.
type Postgres struct {
	Db *sql.DB
}

func NewPostgres(cfg *config.Config) (*Postgres, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.PGSQL.Host, cfg.PGSQL.Port, cfg.PGSQL.User, cfg.PGSQL.Password, cfg.PGSQL.DBName, cfg.PGSQL.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	log.Println("Connected to Postgres database")

	pg := &Postgres{Db: db}
	if err := pg.CreateTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return pg, nil
}

func (p *Postgres) CreateTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS media_metadata (
		owner_id VARCHAR(255) NOT NULL,
		content_hash VARCHAR(128) NOT NULL,
		storage_key TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner_id, content_hash)
	);
	`

	_, err := p.Db.Exec(query)
	return err
}

// Exists is the owner-scoped point lookup used by the dedup gate.
func (p *Postgres) Exists(ctx context.Context, ownerID, contentHash string) (bool, error) {
	var one int
	err := p.Db.QueryRowContext(ctx,
		`SELECT 1 FROM media_metadata WHERE owner_id = $1 AND content_hash = $2 LIMIT 1`,
		ownerID, contentHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	return true, nil
}
