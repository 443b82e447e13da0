package provider

import (
	"context"
	"fmt"
	"sync"

	"propleads/internal/domain/model"
)

// Page is one bounded fetch from the external data source. HasMore drives the
// worker's paging loop.
type Page struct {
	Records []*model.Property
	HasMore bool
}

// PropertyProvider is the capability interface for an external property-data
// vendor. One implementation exists per vendor; the registry keys them by a
// short code carried in job criteria.
type PropertyProvider interface {
	Code() string
	FetchPage(ctx context.Context, criteria *model.JobCriteria, pageSize, offset int) (*Page, error)
	FetchByID(ctx context.Context, externalID string) (*model.Property, error)
}

type Registry struct {
	mu        sync.RWMutex
	providers map[string]PropertyProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]PropertyProvider)}
}

func (r *Registry) Register(p PropertyProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Code()] = p
}

func (r *Registry) Get(code string) (PropertyProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[code]
	if !ok {
		return nil, fmt.Errorf("no provider registered for code %q", code)
	}
	return p, nil
}
