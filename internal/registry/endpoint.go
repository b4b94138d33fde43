package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// SortField is the listing field both registries order by.
const SortField = "registry_registration_date"

// Endpoint issues the calls both registries expose under the same paths.
type Endpoint struct {
	BaseURL string
	Client  JSONRequester
}

type listBody struct {
	Filters      Filters           `json:"filters"`
	Page         int               `json:"page"`
	PageCount    string            `json:"pageCount"`
	SearchString string            `json:"searchString"`
	SortBy       map[string]string `json:"sortBy"`
}

// ListData is the data part of a listing response.
type ListData[T any] struct {
	Data       []T       `json:"data"`
	Count      OptString `json:"count"`
	CountPages OptString `json:"countPages"`
}

// Totals returns the reported record and page counts, zero when absent.
func (d ListData[T]) Totals() (count, pages int) {
	count, _ = strconv.Atoi(d.Count.String())
	pages, _ = strconv.Atoi(d.CountPages.String())
	return count, pages
}

// List requests one listing page sorted newest first and decodes its data.
func List[T any](ctx context.Context, e Endpoint, req ListRequest) (ListData[T], error) {
	filters := req.Filters
	if filters == nil {
		filters = Filters{}
	}
	body := listBody{
		Filters:   filters,
		Page:      req.Page,
		PageCount: strconv.Itoa(req.PageSize),
		SortBy:    map[string]string{SortField: "DESC"},
	}
	var env Envelope[ListData[T]]
	if err := e.Client.RequestJSON(ctx, http.MethodPost, e.url("sro/all/member/list"), body, &env); err != nil {
		return ListData[T]{}, fmt.Errorf("list page %d: %w", req.Page, err)
	}
	if err := env.Check("list"); err != nil {
		return ListData[T]{}, err
	}
	return env.Data, nil
}

// Detail fetches the raw detail record of a member.
func (e Endpoint) Detail(ctx context.Context, id int64) (Detail, error) {
	var env Envelope[json.RawMessage]
	if err := e.Client.RequestJSON(ctx, http.MethodPost, e.url(fmt.Sprintf("member/%d/info", id)), nil, &env); err != nil {
		return Detail{ID: id}, fmt.Errorf("fetch member %d: %w", id, err)
	}
	if err := env.Check(fmt.Sprintf("member %d", id)); err != nil {
		return Detail{ID: id}, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Detail{ID: id, Raw: env.Data}, malformed(id, "empty detail")
	}
	return DecodeDetail(env.Data)
}

// SRO fetches an SRO descriptor.
func (e Endpoint) SRO(ctx context.Context, id int64) (SRO, error) {
	var env Envelope[SRO]
	if err := e.Client.RequestJSON(ctx, http.MethodPost, e.url(fmt.Sprintf("sro/%d", id)), nil, &env); err != nil {
		return SRO{}, fmt.Errorf("fetch sro %d: %w", id, err)
	}
	if err := env.Check(fmt.Sprintf("sro %d", id)); err != nil {
		return SRO{}, err
	}
	if env.Data.ID == 0 {
		env.Data.ID = id
	}
	return env.Data, nil
}

func (e Endpoint) url(path string) string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + path
}
