// Package nostroy adapts the construction SRO registry (reestr.nostroy.ru).
package nostroy

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

const (
	// Name identifies the registry in cache keys, artifacts and metrics.
	Name = "nostroy"
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://reestr.nostroy.ru/api"
	// DefaultPageSize is the listing page size.
	DefaultPageSize = 1000

	listDateLayout = "02.01.2006 15:04:05"
)

// Options configures a Service.
type Options struct {
	BaseURL    string
	PageSize   int
	DateLayout string
}

// Service implements registry.Service for NOSTROY.
type Service struct {
	endpoint registry.Endpoint
	norm     registry.Normalizer
	pageSize int
}

var _ registry.Service = (*Service)(nil)

// New builds a Service on top of client.
func New(client registry.JSONRequester, opts Options) *Service {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Service{
		endpoint: registry.Endpoint{BaseURL: opts.BaseURL, Client: client},
		norm:     registry.Normalizer{DateLayout: opts.DateLayout},
		pageSize: opts.PageSize,
	}
}

// Name implements registry.Service.
func (s *Service) Name() string { return Name }

// PageSize implements registry.Service.
func (s *Service) PageSize() int { return s.pageSize }

// listItem carries the registration moment as a local MSK string.
type listItem struct {
	ID           registry.OptString `json:"id"`
	RegisteredAt registry.OptString `json:"registry_registration_date_time_string"`
}

// CollectIDsPage implements registry.Service.
func (s *Service) CollectIDsPage(ctx context.Context, req registry.ListRequest) (registry.ListPage, error) {
	data, err := registry.List[listItem](ctx, s.endpoint, req)
	if err != nil {
		return registry.ListPage{}, err
	}
	page := registry.ListPage{Items: make([]registry.ListItem, 0, len(data.Data))}
	page.Count, page.CountPages = data.Totals()
	for _, it := range data.Data {
		id, err := registry.ParseID(it.ID.String())
		if err != nil {
			return registry.ListPage{}, fmt.Errorf("list page %d: bad id %q: %w", req.Page, it.ID.String(), err)
		}
		ts, err := time.ParseInLocation(listDateLayout, it.RegisteredAt.String(), registry.Moscow)
		if err != nil {
			return registry.ListPage{}, fmt.Errorf("list page %d: member %d: %w", req.Page, id, err)
		}
		page.Items = append(page.Items, registry.ListItem{ID: id, RegisteredAt: ts})
	}
	return page, nil
}

// FetchDetail implements registry.Service.
func (s *Service) FetchDetail(ctx context.Context, id int64) (registry.Detail, error) {
	return s.endpoint.Detail(ctx, id)
}

// FetchSRO implements registry.Service.
func (s *Service) FetchSRO(ctx context.Context, id int64) (registry.SRO, error) {
	return s.endpoint.SRO(ctx, id)
}

// Normalize implements registry.Service.
func (s *Service) Normalize(detail registry.Detail, sro registry.SRO) (registry.Row, error) {
	m, err := registry.DecodeMember(detail)
	if err != nil {
		return nil, err
	}
	base, err := s.norm.Base(detail.ID, m, sro)
	if err != nil {
		return nil, err
	}
	row := &registry.NostroyRow{BaseRow: base, Region: m.District.Ptr()}

	right := m.Rights()
	if right == nil {
		right = &registry.Right{}
	}
	if row.Simple, err = s.norm.Eligibility(detail.ID, "right.simple_date", right.IsSimple.Ptr(), right.SimpleDate); err != nil {
		return nil, err
	}
	if row.ExtremelyDangerous, err = s.norm.Eligibility(detail.ID, "right.extremely_dangerous_date",
		right.IsExtremelyDangerous.Ptr(), right.ExtremelyDangerousDate); err != nil {
		return nil, err
	}
	if row.Nuclear, err = s.norm.Eligibility(detail.ID, "right.nuclear_date", right.IsNuclear.Ptr(), right.NuclearDate); err != nil {
		return nil, err
	}
	return row, nil
}
