package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"propleads/internal/common"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCampaignRepo is an in-memory CampaignRepository for service tests.
type fakeCampaignRepo struct {
	nextID     int64
	campaigns  map[int64]*model.Campaign
	recipients map[int64][]*model.Recipient
	doNotMail  map[string]bool // street + "|" + zip
	entries    []*model.DoNotMailEntry
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		nextID:     1,
		campaigns:  make(map[int64]*model.Campaign),
		recipients: make(map[int64][]*model.Recipient),
		doNotMail:  make(map[string]bool),
	}
}

func (r *fakeCampaignRepo) Create(ctx context.Context, campaign *model.Campaign) error {
	campaign.ID = r.nextID
	r.nextID++
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt
	r.campaigns[campaign.ID] = campaign
	return nil
}

func (r *fakeCampaignRepo) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	campaign, ok := r.campaigns[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *campaign
	cp.RecipientCount = len(r.recipients[id])
	return &cp, nil
}

func (r *fakeCampaignRepo) AddRecipients(ctx context.Context, campaignID int64, recipients []*model.Recipient) (int, error) {
	added := 0
	for _, rec := range recipients {
		dup := false
		for _, existing := range r.recipients[campaignID] {
			if existing.PropertyID == rec.PropertyID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		rec.CampaignID = campaignID
		r.recipients[campaignID] = append(r.recipients[campaignID], rec)
		added++
	}
	return added, nil
}

func (r *fakeCampaignRepo) ListRecipients(ctx context.Context, campaignID int64) ([]*model.Recipient, error) {
	return r.recipients[campaignID], nil
}

func (r *fakeCampaignRepo) AddDoNotMail(ctx context.Context, entry *model.DoNotMailEntry) error {
	key := entry.Street + "|" + entry.Zip
	if r.doNotMail[key] {
		return common.ErrConflict
	}
	r.doNotMail[key] = true
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeCampaignRepo) ListDoNotMail(ctx context.Context, limit, offset int) ([]*model.DoNotMailEntry, error) {
	if offset >= len(r.entries) {
		return []*model.DoNotMailEntry{}, nil
	}
	out := r.entries[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeCampaignRepo) IsSuppressed(ctx context.Context, street, zip string) (bool, error) {
	return r.doNotMail[street+"|"+zip], nil
}

func newCampaignFixture() (*CampaignService, *fakeCampaignRepo, *repository.MemoryPropertyRepository) {
	campaigns := newFakeCampaignRepo()
	props := repository.NewMemoryPropertyRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCampaignService(campaigns, props, logger), campaigns, props
}

func seedCampaignProperties(props *repository.MemoryPropertyRepository) {
	props.SaveBatch(context.Background(), []*model.Property{
		{ExternalID: "p1", Provider: "pdp", OwnerName: "Ann", Street: "1 Main St", City: "Austin", State: "TX", Zip: "78701"},
		{ExternalID: "p2", Provider: "pdp", OwnerName: "Bob", Street: "2 Oak Ave", City: "Austin", State: "TX", Zip: "78702"},
		{ExternalID: "p3", Provider: "pdp", OwnerName: "Cid", Street: "3 Elm Rd", City: "Austin", State: "TX", Zip: "78703"},
	})
}

func TestCreateCampaignRequiresName(t *testing.T) {
	svc, _, _ := newCampaignFixture()
	_, err := svc.CreateCampaign(context.Background(), &model.Campaign{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAttachPropertiesFiltersSuppressed(t *testing.T) {
	svc, _, props := newCampaignFixture()
	seedCampaignProperties(props)

	campaign, err := svc.CreateCampaign(context.Background(), &model.Campaign{Name: "Spring Mailers", CreatedBy: "op-1"})
	require.NoError(t, err)

	require.NoError(t, svc.AddDoNotMail(context.Background(), &model.DoNotMailEntry{
		Street: "2 Oak Ave", Zip: "78702", CreatedBy: "op-1",
	}))

	result, err := svc.AttachProperties(context.Background(), campaign.ID, "pdp",
		[]string{"p1", "p2", "p3", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Suppressed)
	assert.Equal(t, 1, result.Skipped)

	recipients, err := svc.ListRecipients(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	for _, rec := range recipients {
		assert.NotEqual(t, "2 Oak Ave", rec.Street)
	}
}

func TestAttachPropertiesUnknownCampaign(t *testing.T) {
	svc, _, props := newCampaignFixture()
	seedCampaignProperties(props)

	_, err := svc.AttachProperties(context.Background(), 99, "pdp", []string{"p1"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExportCSV(t *testing.T) {
	svc, _, props := newCampaignFixture()
	seedCampaignProperties(props)

	campaign, err := svc.CreateCampaign(context.Background(), &model.Campaign{Name: "Spring Mailers 2026", CreatedBy: "op-1"})
	require.NoError(t, err)
	_, err = svc.AttachProperties(context.Background(), campaign.ID, "pdp", []string{"p1", "p2"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), campaign.ID, &buf))

	out := buf.String()
	assert.Contains(t, out, "owner_name,street,city,state,zip\n")
	assert.Contains(t, out, "Ann,1 Main St,Austin,TX,78701\n")
	assert.Contains(t, out, "Bob,2 Oak Ave,Austin,TX,78702\n")

	assert.Equal(t, "spring-mailers-2026-recipients.csv", svc.ExportFilename(campaign))
}
