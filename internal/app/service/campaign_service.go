package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"propleads/internal/common"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"

	"github.com/gosimple/slug"
)

// CampaignService assembles mailing campaigns from stored properties. Every
// attach goes through the do-not-mail list; suppressed addresses are skipped
// and counted, never added.
type CampaignService struct {
	campaigns repository.CampaignRepository
	props     repository.PropertyRepository
	logger    *slog.Logger
}

func NewCampaignService(campaigns repository.CampaignRepository, props repository.PropertyRepository, logger *slog.Logger) *CampaignService {
	return &CampaignService{campaigns: campaigns, props: props, logger: logger}
}

func (s *CampaignService) CreateCampaign(ctx context.Context, campaign *model.Campaign) (*model.Campaign, error) {
	if campaign.Name == "" {
		return nil, fmt.Errorf("campaign name is required: %w", common.ErrValidation)
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.campaigns.GetByID(ctx, id)
}

// AttachResult reports what happened to each candidate property.
type AttachResult struct {
	Added      int `json:"added"`
	Suppressed int `json:"suppressed"`
	Skipped    int `json:"skipped"` // already attached or not found
}

// AttachProperties looks up stored properties by external id, drops any whose
// address is on the do-not-mail list, and attaches the rest as recipients.
func (s *CampaignService) AttachProperties(ctx context.Context, campaignID int64, provider string, externalIDs []string) (*AttachResult, error) {
	if len(externalIDs) == 0 {
		return nil, fmt.Errorf("externalIDs must not be empty: %w", common.ErrValidation)
	}
	if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}

	properties, err := s.props.FindByExternalIDs(ctx, provider, externalIDs)
	if err != nil {
		return nil, err
	}

	result := &AttachResult{Skipped: len(externalIDs) - len(properties)}
	recipients := make([]*model.Recipient, 0, len(properties))
	for _, p := range properties {
		suppressed, err := s.campaigns.IsSuppressed(ctx, p.Street, p.Zip)
		if err != nil {
			return nil, err
		}
		if suppressed {
			result.Suppressed++
			continue
		}
		recipients = append(recipients, &model.Recipient{
			PropertyID: p.ID,
			OwnerName:  p.OwnerName,
			Street:     p.Street,
			City:       p.City,
			State:      p.State,
			Zip:        p.Zip,
		})
	}

	added, err := s.campaigns.AddRecipients(ctx, campaignID, recipients)
	if err != nil {
		return nil, err
	}
	result.Added = added
	result.Skipped += len(recipients) - added

	s.logger.Info("recipients attached",
		"campaign_id", campaignID,
		"added", result.Added,
		"suppressed", result.Suppressed,
		"skipped", result.Skipped)
	return result, nil
}

func (s *CampaignService) ListRecipients(ctx context.Context, campaignID int64) ([]*model.Recipient, error) {
	if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.campaigns.ListRecipients(ctx, campaignID)
}

func (s *CampaignService) AddDoNotMail(ctx context.Context, entry *model.DoNotMailEntry) error {
	if entry.Street == "" || entry.Zip == "" {
		return fmt.Errorf("street and zip are required: %w", common.ErrValidation)
	}
	return s.campaigns.AddDoNotMail(ctx, entry)
}

func (s *CampaignService) ListDoNotMail(ctx context.Context, limit, offset int) ([]*model.DoNotMailEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.campaigns.ListDoNotMail(ctx, limit, offset)
}

// ExportFilename derives a download name from the campaign name.
func (s *CampaignService) ExportFilename(campaign *model.Campaign) string {
	return fmt.Sprintf("%s-recipients.csv", slug.Make(campaign.Name))
}

// ExportCSV streams the recipient list as CSV. The column order matches the
// mail-house import template.
func (s *CampaignService) ExportCSV(ctx context.Context, campaignID int64, w io.Writer) error {
	recipients, err := s.ListRecipients(ctx, campaignID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"owner_name", "street", "city", "state", "zip"}); err != nil {
		return fmt.Errorf("campaignService.ExportCSV: %w", err)
	}
	for _, rec := range recipients {
		if err := cw.Write([]string{rec.OwnerName, rec.Street, rec.City, rec.State, rec.Zip}); err != nil {
			return fmt.Errorf("campaignService.ExportCSV: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
