package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"propleads/internal/common"
	"propleads/internal/domain/model"
)

// PDPClient talks to the "pdp" property-data vendor: JSON over HTTP, API key
// header, page/offset query contract. The vendor rate-limits aggressively;
// pacing between pages is the worker's job, not the client's.
type PDPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewPDPClient(baseURL, apiKey string) *PDPClient {
	return &PDPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *PDPClient) Code() string { return "pdp" }

type pdpRecord struct {
	ID        string          `json:"id"`
	OwnerName string          `json:"owner_name"`
	Address   pdpAddress      `json:"address"`
	Raw       json.RawMessage `json:"attributes,omitempty"`
}

type pdpAddress struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

type pdpPageResponse struct {
	Records []pdpRecord `json:"records"`
	HasMore bool        `json:"has_more"`
}

func (c *PDPClient) FetchPage(ctx context.Context, criteria *model.JobCriteria, pageSize, offset int) (*Page, error) {
	ids := criteria.PropertyIDs
	if offset >= len(ids) {
		return &Page{Records: nil, HasMore: false}, nil
	}
	end := offset + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids[offset:end], ","))
	q.Set("limit", strconv.Itoa(pageSize))

	var resp pdpPageResponse
	if err := c.getJSON(ctx, "/v1/properties?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	page := &Page{HasMore: resp.HasMore || end < len(ids)}
	for _, rec := range resp.Records {
		page.Records = append(page.Records, c.transform(rec))
	}
	return page, nil
}

func (c *PDPClient) FetchByID(ctx context.Context, externalID string) (*model.Property, error) {
	var rec pdpRecord
	if err := c.getJSON(ctx, "/v1/properties/"+url.PathEscape(externalID), &rec); err != nil {
		return nil, err
	}
	return c.transform(rec), nil
}

func (c *PDPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("pdp: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pdp: %v: %w", err, common.ErrExternalFetch)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pdp: unexpected status %d from %s: %w", resp.StatusCode, path, common.ErrExternalFetch)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pdp: decode response: %v: %w", err, common.ErrExternalFetch)
	}
	return nil
}

func (c *PDPClient) transform(rec pdpRecord) *model.Property {
	return &model.Property{
		ExternalID: rec.ID,
		Provider:   c.Code(),
		OwnerName:  rec.OwnerName,
		Street:     rec.Address.Street,
		City:       rec.Address.City,
		State:      rec.Address.State,
		Zip:        rec.Address.Zip,
		RawData:    rec.Raw,
	}
}
