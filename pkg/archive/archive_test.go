package archive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/archive"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func s3Config() archive.Config {
	return archive.Config{Driver: "s3", Bucket: "billing-archive", Region: "eu-west-1", Prefix: "/webhooks/"}
}

func TestS3Archiver_Archive(t *testing.T) {
	t.Parallel()

	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return *in.Bucket == "billing-archive" &&
			*in.Key == "webhooks/stripe/evt_123.json" &&
			*in.ContentType == "application/json" &&
			string(body) == `{"id":"evt_123"}`
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	a, err := archive.NewS3Archiver(context.Background(), s3Config(), archive.WithS3Client(client))
	require.NoError(t, err)
	require.NoError(t, a.Archive(context.Background(), "stripe", "evt_123", []byte(`{"id":"evt_123"}`)))
	client.AssertExpectations(t)
}

func TestS3Archiver_Load(t *testing.T) {
	t.Parallel()

	client := &mockS3{}
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "webhooks/paddle/ntf_1.json"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("payload")))}, nil)
	client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	a, err := archive.NewS3Archiver(context.Background(), s3Config(), archive.WithS3Client(client))
	require.NoError(t, err)

	payload, err := a.Load(context.Background(), "paddle", "ntf_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)

	_, err = a.Load(context.Background(), "paddle", "ntf_missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestS3Archiver_Errors(t *testing.T) {
	t.Parallel()

	_, err := archive.NewS3Archiver(context.Background(), archive.Config{Region: "eu-west-1"})
	assert.ErrorIs(t, err, archive.ErrInvalidConfig)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, archive.ErrAccessDenied},
		{"missing bucket", &types.NoSuchBucket{}, archive.ErrBucketNotFound},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, archive.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := &mockS3{}
			client.On("PutObject", mock.Anything, mock.Anything).Return(nil, tt.err)
			a, err := archive.NewS3Archiver(context.Background(), s3Config(), archive.WithS3Client(client))
			require.NoError(t, err)
			assert.ErrorIs(t, a.Archive(context.Background(), "stripe", "evt_1", []byte("{}")), tt.want)
		})
	}

	t.Run("unclassified", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("connection reset")
		client := &mockS3{}
		client.On("PutObject", mock.Anything, mock.Anything).Return(nil, boom)
		a, err := archive.NewS3Archiver(context.Background(), s3Config(), archive.WithS3Client(client))
		require.NoError(t, err)
		assert.ErrorIs(t, a.Archive(context.Background(), "stripe", "evt_1", []byte("{}")), boom)
	})
}

func TestLocalArchiver(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := archive.New(context.Background(), archive.Config{Driver: "local", LocalDir: dir, Prefix: "webhooks"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Archive(ctx, "dev", "dev_evt_1", []byte("first")))
	require.NoError(t, store.Archive(ctx, "dev", "dev_evt_1", []byte("second")))

	raw, err := os.ReadFile(filepath.Join(dir, "webhooks", "dev", "dev_evt_1.json"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(raw))

	payload, err := store.Load(ctx, "dev", "dev_evt_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), payload)

	_, err = store.Load(ctx, "dev", "dev_evt_2")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestInvalidKeys(t *testing.T) {
	t.Parallel()

	store, err := archive.NewLocalArchiver(archive.Config{LocalDir: t.TempDir()})
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../etc/passwd", "a/b"} {
		assert.ErrorIs(t, store.Archive(context.Background(), "dev", id, []byte("x")), archive.ErrInvalidKey, id)
	}
	assert.ErrorIs(t, store.Archive(context.Background(), "", "evt", []byte("x")), archive.ErrInvalidKey)
}

func TestNew_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := archive.New(context.Background(), archive.Config{Driver: "ftp"})
	assert.ErrorIs(t, err, archive.ErrInvalidConfig)
}
