package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "run/ids.txt", "text/plain", bytes.NewReader([]byte("1\n2\n")))
	require.NoError(t, err)
	assert.Equal(t, "memory://run/ids.txt", uri)

	got, ok := store.Object("run/ids.txt")
	require.True(t, ok)
	got[0] = '9'

	again, _ := store.Object("run/ids.txt")
	assert.Equal(t, "1\n2\n", string(again))
	assert.Equal(t, 1, store.Len())

	_, ok = store.Object("missing")
	assert.False(t, ok)
}
