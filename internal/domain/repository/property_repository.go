package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"propleads/internal/common"
	"propleads/internal/domain/model"
)

// PropertyRepository persists fetched property records. SaveBatch writes
// records individually: per-record failures become counts, never an error
// for the whole page.
type PropertyRepository interface {
	SaveBatch(ctx context.Context, properties []*model.Property) (successCount, errorCount int)
	GetByID(ctx context.Context, id int64) (*model.Property, error)
	FindByExternalIDs(ctx context.Context, provider string, externalIDs []string) ([]*model.Property, error)
	FindExistingIDs(ctx context.Context, provider string, externalIDs []string) ([]string, error)
}

type pgPropertyRepository struct {
	db *sql.DB
}

func NewPgPropertyRepository(db *sql.DB) PropertyRepository {
	return &pgPropertyRepository{db: db}
}

// SaveBatch upserts each record on (provider, external_id). One bad record
// must not sink the page, so records are written individually and failures
// are tallied and logged.
func (r *pgPropertyRepository) SaveBatch(ctx context.Context, properties []*model.Property) (int, int) {
	query := `INSERT INTO properties (external_id, provider, owner_name, street, city, state, zip, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			owner_name = EXCLUDED.owner_name,
			street = EXCLUDED.street,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			raw_data = EXCLUDED.raw_data,
			updated_at = NOW()
		RETURNING id`
	success, failed := 0, 0
	for _, p := range properties {
		err := r.db.QueryRowContext(ctx, query,
			p.ExternalID, p.Provider, p.OwnerName, p.Street, p.City, p.State, p.Zip, p.RawData,
		).Scan(&p.ID)
		if err != nil {
			slog.Error("failed to save property", "provider", p.Provider, "external_id", p.ExternalID, "error", err)
			failed++
			continue
		}
		success++
	}
	return success, failed
}

func (r *pgPropertyRepository) GetByID(ctx context.Context, id int64) (*model.Property, error) {
	query := `SELECT id, external_id, provider, owner_name, street, city, state, zip, raw_data, created_at, updated_at
		FROM properties WHERE id = $1`
	p := &model.Property{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.ExternalID, &p.Provider, &p.OwnerName, &p.Street, &p.City, &p.State, &p.Zip,
		&p.RawData, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgPropertyRepository.GetByID: %w", err)
	}
	return p, nil
}

func (r *pgPropertyRepository) FindByExternalIDs(ctx context.Context, provider string, externalIDs []string) ([]*model.Property, error) {
	query := `SELECT id, external_id, provider, owner_name, street, city, state, zip, raw_data, created_at, updated_at
		FROM properties WHERE provider = $1 AND external_id = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, provider, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("pgPropertyRepository.FindByExternalIDs: %w", err)
	}
	defer rows.Close()

	properties := []*model.Property{}
	for rows.Next() {
		p := &model.Property{}
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Provider, &p.OwnerName, &p.Street, &p.City,
			&p.State, &p.Zip, &p.RawData, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgPropertyRepository.FindByExternalIDs: %w", err)
		}
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

// FindExistingIDs returns the subset of externalIDs already stored; the
// duplicate-check flow calls this one batch at a time.
func (r *pgPropertyRepository) FindExistingIDs(ctx context.Context, provider string, externalIDs []string) ([]string, error) {
	query := `SELECT external_id FROM properties WHERE provider = $1 AND external_id = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, provider, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("pgPropertyRepository.FindExistingIDs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgPropertyRepository.FindExistingIDs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
