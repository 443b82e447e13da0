package model

import "time"

// Campaign is a named mailing run assembled from stored properties.
type Campaign struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	RecipientCount int       `json:"recipient_count"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Recipient is one campaign mailing target, denormalized from the property
// at attach time so later property edits don't rewrite a mailed campaign.
type Recipient struct {
	ID         int64  `json:"id"`
	CampaignID int64  `json:"campaign_id"`
	PropertyID int64  `json:"property_id"`
	OwnerName  string `json:"owner_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Zip        string `json:"zip"`
}

// DoNotMailEntry suppresses an address from all future campaigns.
type DoNotMailEntry struct {
	ID        int64     `json:"id"`
	Street    string    `json:"street"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Zip       string    `json:"zip"`
	Reason    string    `json:"reason,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
