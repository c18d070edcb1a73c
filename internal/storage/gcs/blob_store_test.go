package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "bucket"})
	require.Error(t, err)

	_, err = New(newTestClient(t), Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestObjectNameAppliesPrefix(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t), Config{Bucket: "bucket", Prefix: "/upload/image/"})
	require.NoError(t, err)

	name, err := store.objectName("1445/1445_1_abc.png")
	require.NoError(t, err)
	require.Equal(t, "upload/image/1445/1445_1_abc.png", name)

	_, err = store.objectName("  ")
	require.Error(t, err)

	bare, err := New(newTestClient(t), Config{Bucket: "bucket"})
	require.NoError(t, err)
	name, err = bare.objectName("1445/1445.png")
	require.NoError(t, err)
	require.Equal(t, "1445/1445.png", name)
}
