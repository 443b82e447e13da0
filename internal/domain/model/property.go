package model

import "time"

// Property is one stored property record, keyed by the external provider's
// identifier. Only the fields the mail house needs are kept; the rest of the
// vendor payload stays in RawData for later re-mapping.
type Property struct {
	ID          int64     `json:"id"`
	ExternalID  string    `json:"external_id"`
	Provider    string    `json:"provider"`
	OwnerName   string    `json:"owner_name"`
	Street      string    `json:"street"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Zip         string    `json:"zip"`
	RawData     []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
