package registry

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"time"
)

// Moscow is the zone registry timestamps without an offset are expressed in.
var Moscow = time.FixedZone("MSK", 3*60*60)

// Window is an inclusive registration-date window. To covers the whole of
// its calendar day.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow builds a Window from two calendar days (time of day is ignored).
func NewWindow(from, to time.Time) (Window, error) {
	start := startOfDay(from)
	end := startOfDay(to).AddDate(0, 0, 1).Add(-time.Nanosecond)
	if end.Before(start) {
		return Window{}, fmt.Errorf("date_from %s is after date_to %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return Window{From: start, To: end}, nil
}

// IsBefore reports whether ts is older than the window floor.
func (w Window) IsBefore(ts time.Time) bool {
	return ts.Before(w.From)
}

// IsAfter reports whether ts is newer than the window ceiling.
func (w Window) IsAfter(ts time.Time) bool {
	return ts.After(w.To)
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	return !w.IsBefore(ts) && !w.IsAfter(ts)
}

// String renders the window as used in cache keys and artifact names.
func (w Window) String() string {
	return fmt.Sprintf("from_%s_to_%s", w.From.Format(time.DateOnly), w.To.In(Moscow).Format(time.DateOnly))
}

func startOfDay(t time.Time) time.Time {
	t = t.In(Moscow)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Moscow)
}

// Filters maps listing filter fields to a scalar or a list of scalars. A list
// value means one collection pass per element.
type Filters map[string]any

// Expand returns one all-scalar filter set per element of the list-valued
// field. Without a list field the receiver is returned as the only element.
// An empty list removes the field.
func (f Filters) Expand() ([]Filters, error) {
	listKey := ""
	var values []any
	for _, key := range f.keys() {
		items, ok := listValues(f[key])
		if !ok {
			continue
		}
		if listKey != "" {
			return nil, fmt.Errorf("%w: %q and %q", ErrMultipleListFilters, listKey, key)
		}
		listKey, values = key, items
	}
	if listKey == "" {
		return []Filters{f.clone()}, nil
	}
	if len(values) == 0 {
		base := f.clone()
		delete(base, listKey)
		return []Filters{base}, nil
	}
	out := make([]Filters, 0, len(values))
	for _, v := range values {
		next := f.clone()
		next[listKey] = v
		out = append(out, next)
	}
	return out, nil
}

// Fingerprint is a stable encoding of the filter set (keys sorted).
func (f Filters) Fingerprint() ([]byte, error) {
	if len(f) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(map[string]any(f))
	if err != nil {
		return nil, fmt.Errorf("marshal filters: %w", err)
	}
	return data, nil
}

func (f Filters) keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f Filters) clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func listValues(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// IDSet is an unordered set of member IDs.
type IDSet map[int64]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

// Has reports whether id is present.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Union adds every member of other.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the IDs in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ListRequest asks for one listing page.
type ListRequest struct {
	Filters  Filters
	Page     int
	PageSize int
}

// ListItem is the part of a listing summary the collector needs.
type ListItem struct {
	ID           int64
	RegisteredAt time.Time
}

// ListPage is one decoded listing page. CountPages is zero when the registry
// does not report it.
type ListPage struct {
	Items      []ListItem
	Count      int
	CountPages int
}

// Detail is a raw member record together with the keys the pipeline needs
// before normalisation.
type Detail struct {
	ID    int64
	SROID int64
	Raw   json.RawMessage
}

// SRO describes a self-regulating organisation.
type SRO struct {
	ID                 int64     `json:"id"`
	FullDescription    OptString `json:"full_description"`
	ShortDescription   OptString `json:"short_description"`
	RegistrationNumber OptString `json:"registration_number"`
	INN                OptString `json:"inn"`
	OGRN               OptString `json:"ogrnip"`
	Phone              OptString `json:"phone"`
	Email              OptString `json:"email"`
	Site               OptString `json:"site"`
	Address            OptString `json:"address"`
}

// Envelope is the common response wrapper of both registries.
type Envelope[T any] struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Check returns an *APIError when the registry flagged the call as failed.
func (e Envelope[T]) Check(op string) error {
	if e.Success != nil && !*e.Success {
		return &APIError{Op: op, Message: e.Message}
	}
	return nil
}
