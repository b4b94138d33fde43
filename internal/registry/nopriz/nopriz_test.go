package nopriz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sro-registry-crawler/internal/httpclient"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

const memberJSON = `{
	"id": 555,
	"sro_id": 12,
	"inventory_number": "П-123",
	"full_description": "АО \"Проект\"",
	"member_status": {"title": "Является членом"},
	"basis": "Протокол №1 от 01.02.2024",
	"approved_basis_date": "2024-02-02T00:00:00+03:00",
	"created_at": "2024-02-01T08:00:00+03:00",
	"suspension_date": "",
	"member_right_vv": {"compensation_fund": 100000},
	"member_right_odo": null,
	"registry_registration_date": "2024-02-02T09:30:00+03:00"
}`

func newService(t *testing.T) *Service {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sro/all/member/list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"count":"1","data":[
			{"id":555,"registry_registration_date":"2024-02-02T09:30:00+03:00"}]}}`))
	})
	mux.HandleFunc("POST /api/member/555/info", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":` + memberJSON + `}`))
	})
	mux.HandleFunc("POST /api/sro/12", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"full_description":"Ассоциация Изыскатели"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := httpclient.New(httpclient.Options{Retry: httpclient.RetryPolicy{MaxAttempts: 1}})
	require.NoError(t, err)
	return New(client, Options{BaseURL: srv.URL + "/api/", PageSize: 50, DateLayout: "2006-01-02"})
}

func TestCollectIDsPage(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	page, err := svc.CollectIDsPage(context.Background(), registry.ListRequest{Page: 1, PageSize: svc.PageSize()})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)
	assert.Zero(t, page.CountPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(555), page.Items[0].ID)
	assert.Equal(t, 2, page.Items[0].RegisteredAt.Day())
}

func TestFetchAndNormalize(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	ctx := context.Background()

	detail, err := svc.FetchDetail(ctx, 555)
	require.NoError(t, err)
	sro, err := svc.FetchSRO(ctx, detail.SROID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), sro.ID)

	row, err := svc.Normalize(detail, sro)
	require.NoError(t, err)
	nr, ok := row.(*registry.NoprizRow)
	require.True(t, ok)

	assert.Equal(t, "П-123", *nr.RegistrationNumber)
	assert.Equal(t, "Ассоциация Изыскатели", *nr.SRO)
	assert.Equal(t, "Является членом", *nr.MemberStatus)
	assert.Equal(t, "2024-02-02", *nr.ApprovedBasisDate)
	assert.Equal(t, "2024-02-01", *nr.CreatedAt)
	assert.Nil(t, nr.SuspensionDate)
	assert.InDelta(t, 100000, *nr.FundVV, 0.001)
	assert.Nil(t, nr.FundODO)
	assert.Nil(t, nr.FullAddress)
	assert.Len(t, nr.Values(), len(nr.Header()))
}
