// Package nopriz adapts the design and survey SRO registry (reestr.nopriz.ru).
package nopriz

import (
	"context"
	"fmt"

	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

const (
	// Name identifies the registry in cache keys, artifacts and metrics.
	Name = "nopriz"
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://reestr.nopriz.ru/api"
	// DefaultPageSize is the listing page size.
	DefaultPageSize = 1000
)

// Options configures a Service.
type Options struct {
	BaseURL    string
	PageSize   int
	DateLayout string
}

// Service implements registry.Service for NOPRIZ.
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

type listItem struct {
	ID           registry.OptString `json:"id"`
	RegisteredAt registry.OptString `json:"registry_registration_date"`
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
		ts, err := registry.ParseTimestamp(it.RegisteredAt.String())
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
	if base.RegistrationNumber == nil {
		base.RegistrationNumber = m.InventoryNumber.Ptr()
	}
	row := &registry.NoprizRow{
		BaseRow:          base,
		MemberStatus:     registry.TitleOf(m.MemberStatus),
		Basis:            m.Basis.Ptr(),
		SuspensionReason: m.SuspensionReason.Ptr(),
	}
	if m.MemberRightVV != nil {
		row.FundVV = m.MemberRightVV.CompensationFund.Ptr()
	}
	if m.MemberRightODO != nil {
		row.FundODO = m.MemberRightODO.CompensationFund.Ptr()
	}
	if row.ApprovedBasisDate, err = s.norm.DateOf(detail.ID, "approved_basis_date", m.ApprovedBasisDate); err != nil {
		return nil, err
	}
	if row.CreatedAt, err = s.norm.DateOf(detail.ID, "created_at", m.CreatedAt); err != nil {
		return nil, err
	}
	if row.SuspensionDate, err = s.norm.DateTimeOf(detail.ID, "suspension_date", m.SuspensionDate); err != nil {
		return nil, err
	}
	return row, nil
}
