package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport answers every PUT with 200 and remembers what it saw.
type recordingTransport struct {
	mu          sync.Mutex
	paths       []string
	contentType string
}

func (r *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
	}
	if req.Method == http.MethodPut {
		r.paths = append(r.paths, req.URL.Path)
		r.contentType = req.Header.Get("Content-Type")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     http.Header{"ETag": {"\"etag\""}},
		Request:    req,
	}, nil
}

// TestPutObjectPathStyle sends the upload to /bucket/key on a custom endpoint.
func TestPutObjectPathStyle(t *testing.T) {
	t.Parallel()

	rt := &recordingTransport{}
	store, err := New(context.Background(), Config{
		Bucket:    "exports",
		Endpoint:  "https://minio.local",
		PathStyle: true,
	},
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
		config.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "run-1/ids.txt", "text/plain", bytes.NewReader([]byte("1\n")))
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/run-1/ids.txt", uri)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Equal(t, []string{"/exports/run-1/ids.txt"}, rt.paths)
	assert.Equal(t, "text/plain", rt.contentType)
}

type failingAPI struct{}

func (failingAPI) PutObject(context.Context, *awss3.PutObjectInput, ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	return nil, errors.New("access denied")
}

type capturingAPI struct{ in *awss3.PutObjectInput }

func (c *capturingAPI) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	c.in = in
	return &awss3.PutObjectOutput{}, nil
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	store := NewWithClient(failingAPI{}, "exports")
	_, err := store.PutObject(context.Background(), "a.xlsx", "", bytes.NewReader(nil))
	require.ErrorContains(t, err, "access denied")

	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}

func TestPutObjectOmitsEmptyContentType(t *testing.T) {
	t.Parallel()

	api := &capturingAPI{}
	_, err := NewWithClient(api, "exports").PutObject(context.Background(), "k", "", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Nil(t, api.in.ContentType)
	assert.Equal(t, "exports", aws.ToString(api.in.Bucket))
}
