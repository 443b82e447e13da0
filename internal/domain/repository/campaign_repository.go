package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"propleads/internal/common"
	"propleads/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type CampaignRepository interface {
	Create(ctx context.Context, campaign *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	AddRecipients(ctx context.Context, campaignID int64, recipients []*model.Recipient) (int, error)
	ListRecipients(ctx context.Context, campaignID int64) ([]*model.Recipient, error)
	AddDoNotMail(ctx context.Context, entry *model.DoNotMailEntry) error
	ListDoNotMail(ctx context.Context, limit, offset int) ([]*model.DoNotMailEntry, error)
	IsSuppressed(ctx context.Context, street, zip string) (bool, error)
}

type pgCampaignRepository struct {
	db *sql.DB
}

func NewPgCampaignRepository(db *sql.DB) CampaignRepository {
	return &pgCampaignRepository{db: db}
}

func (r *pgCampaignRepository) Create(ctx context.Context, campaign *model.Campaign) error {
	query := `INSERT INTO campaigns (name, description, created_by)
		VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, campaign.Name, campaign.Description, campaign.CreatedBy).
		Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgCampaignRepository.Create: %w", err)
	}
	return nil
}

func (r *pgCampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT c.id, c.name, c.description, c.created_by, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM campaign_recipients cr WHERE cr.campaign_id = c.id)
		FROM campaigns c WHERE c.id = $1`
	campaign := &model.Campaign{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID, &campaign.Name, &campaign.Description,
		&campaign.CreatedBy, &campaign.CreatedAt, &campaign.UpdatedAt,
		&campaign.RecipientCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgCampaignRepository.GetByID: %w", err)
	}
	return campaign, nil
}

// AddRecipients inserts recipients one by one, skipping duplicates within
// the campaign; returns how many were actually added.
func (r *pgCampaignRepository) AddRecipients(ctx context.Context, campaignID int64, recipients []*model.Recipient) (int, error) {
	query := `INSERT INTO campaign_recipients (campaign_id, property_id, owner_name, street, city, state, zip)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	added := 0
	for _, rec := range recipients {
		err := r.db.QueryRowContext(ctx, query, campaignID, rec.PropertyID,
			rec.OwnerName, rec.Street, rec.City, rec.State, rec.Zip).Scan(&rec.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // already attached
				continue
			}
			return added, fmt.Errorf("pgCampaignRepository.AddRecipients: %w", err)
		}
		rec.CampaignID = campaignID
		added++
	}
	return added, nil
}

func (r *pgCampaignRepository) ListRecipients(ctx context.Context, campaignID int64) ([]*model.Recipient, error) {
	query := `SELECT id, campaign_id, property_id, owner_name, street, city, state, zip
		FROM campaign_recipients WHERE campaign_id = $1 ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("pgCampaignRepository.ListRecipients: %w", err)
	}
	defer rows.Close()

	recipients := []*model.Recipient{}
	for rows.Next() {
		rec := &model.Recipient{}
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.PropertyID,
			&rec.OwnerName, &rec.Street, &rec.City, &rec.State, &rec.Zip); err != nil {
			return nil, fmt.Errorf("pgCampaignRepository.ListRecipients: %w", err)
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func (r *pgCampaignRepository) AddDoNotMail(ctx context.Context, entry *model.DoNotMailEntry) error {
	query := `INSERT INTO do_not_mail (street, city, state, zip, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, entry.Street, entry.City, entry.State, entry.Zip,
		entry.Reason, entry.CreatedBy).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("address already suppressed: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgCampaignRepository.AddDoNotMail: %w", err)
	}
	return nil
}

func (r *pgCampaignRepository) ListDoNotMail(ctx context.Context, limit, offset int) ([]*model.DoNotMailEntry, error) {
	query := `SELECT id, street, city, state, zip, reason, created_by, created_at
		FROM do_not_mail ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgCampaignRepository.ListDoNotMail: %w", err)
	}
	defer rows.Close()

	entries := []*model.DoNotMailEntry{}
	for rows.Next() {
		entry := &model.DoNotMailEntry{}
		if err := rows.Scan(&entry.ID, &entry.Street, &entry.City, &entry.State, &entry.Zip,
			&entry.Reason, &entry.CreatedBy, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgCampaignRepository.ListDoNotMail: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *pgCampaignRepository) IsSuppressed(ctx context.Context, street, zip string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM do_not_mail WHERE street = $1 AND zip = $2)`
	var suppressed bool
	if err := r.db.QueryRowContext(ctx, query, street, zip).Scan(&suppressed); err != nil {
		return false, fmt.Errorf("pgCampaignRepository.IsSuppressed: %w", err)
	}
	return suppressed, nil
}
