package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type event struct {
	RunID   string `json:"run_id"`
	Service string `json:"service"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"service": e.Service}
}

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "runs")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

// TestPublishSendsJSONWithAttributes round-trips through the fake server.
func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t)
	id, err := pub.Publish(context.Background(), "runs", event{RunID: "r1", Service: "nostroy"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, event{RunID: "r1", Service: "nostroy"}, got)
	assert.Equal(t, "nostroy", msgs[0].Attributes["service"])
}

func TestPublishRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub, _ := newTestPublisher(t)
	_, err := pub.Publish(context.Background(), "", event{})
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "runs", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = (&Publisher{}).Publish(context.Background(), "runs", event{})
	require.Error(t, err)
}
