package attachment

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/story-ingress/pkg/config"
)

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:8080/media/", zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	key := "attachments/st-1/abc.png"

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.PutObject(ctx, key, pngHeader, "image/png"))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := os.ReadFile(filepath.Join(dir, "attachments", "st-1", "abc.png"))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	assert.Equal(t, "http://localhost:8080/media/attachments/st-1/abc.png", store.PublicURL(key))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost", zaptest.NewLogger(t))
	require.NoError(t, err)

	err = store.PutObject(context.Background(), "../escape.png", pngHeader, "image/png")
	assert.Error(t, err)

	_, err = store.Exists(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestS3Store(t *testing.T) {
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	store, err := NewS3Store(S3Options{
		Bucket:        "media",
		Endpoint:      "http://s3.test",
		Region:        "us-east-1",
		AccessKey:     "key",
		SecretKey:     "secret",
		UsePathStyle:  true,
		PublicBaseURL: "https://cdn.test",
		HTTPClient:    httpClient,
		Retryer:       aws.NopRetryer{},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	var uploadedType string
	httpmock.RegisterResponder(http.MethodPut, "http://s3.test/media/attachments/st-1/abc.png",
		func(req *http.Request) (*http.Response, error) {
			uploadedType = req.Header.Get("Content-Type")
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})
	httpmock.RegisterResponder(http.MethodHead, "http://s3.test/media/attachments/st-1/abc.png",
		httpmock.NewStringResponder(http.StatusOK, ""))
	httpmock.RegisterResponder(http.MethodHead, "http://s3.test/media/attachments/st-1/missing.png",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	ctx := context.Background()
	require.NoError(t, store.PutObject(ctx, "attachments/st-1/abc.png", pngHeader, "image/png"))
	assert.Equal(t, "image/png", uploadedType)

	exists, err := store.Exists(ctx, "attachments/st-1/abc.png")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "attachments/st-1/missing.png")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, "https://cdn.test/media/attachments/st-1/abc.png", store.PublicURL("attachments/st-1/abc.png"))
}

func TestNewStore_SelectsBackend(t *testing.T) {
	local, err := NewStore(&config.StorageConfig{
		Backend:       config.StorageLocal,
		LocalDir:      t.TempDir(),
		PublicBaseURL: "http://localhost",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, local)

	remote, err := NewStore(&config.StorageConfig{
		Backend:       config.StorageS3,
		Bucket:        "media",
		Region:        "us-east-1",
		AccessKey:     "key",
		SecretKey:     "secret",
		PublicBaseURL: "https://cdn.test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, remote)

	_, err = NewStore(&config.StorageConfig{Backend: "ftp"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
