package blobstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMinio struct {
	bucketExists bool
	made         []string
	objects      map[string][]byte
	contentTypes map[string]string
	statErr      error
	presignTTL   time.Duration
	presignQuery url.Values
}

func newFakeMinio() *fakeMinio {
	return &fakeMinio{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeMinio) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeMinio) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	f.bucketExists = true
	return nil
}

func (f *fakeMinio) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = b
	f.contentTypes[key] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func (f *fakeMinio) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not used")
}

func (f *fakeMinio) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeMinio) StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	if _, ok := f.objects[key]; !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	}
	return minio.ObjectInfo{Key: key}, nil
}

func (f *fakeMinio) PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error) {
	f.presignTTL, f.presignQuery = expiry, params
	return url.Parse("https://minio.local/" + bucket + "/" + key + "?X-Amz-Signature=abc")
}

func newTestMinio(f *fakeMinio) *Minio {
	m := newMinio(f, "docs")
	m.read = func(ctx context.Context, key string) ([]byte, error) {
		b, ok := f.objects[key]
		if !ok {
			return nil, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
		}
		return b, nil
	}
	return m
}

func TestMinio_EnsureBucket(t *testing.T) {
	f := newFakeMinio()
	m := newMinio(f, "docs")

	require.NoError(t, m.ensureBucket(context.Background(), ""))
	assert.Equal(t, []string{"docs"}, f.made)

	require.NoError(t, m.ensureBucket(context.Background(), ""))
	assert.Len(t, f.made, 1, "existing bucket must not be recreated")
}

func TestMinio_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFakeMinio()
	m := newTestMinio(f)
	key := "documents/u1/d1/notes.pdf"

	loc, err := m.Upload(ctx, key, []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "s3://docs/"+key, loc)
	assert.Equal(t, "application/pdf", f.contentTypes[key])

	ok, err := m.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), got)

	require.NoError(t, m.Delete(ctx, key))
	ok, err = m.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Download(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMinio_ExistsPropagatesOtherErrors(t *testing.T) {
	f := newFakeMinio()
	f.statErr = minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	_, err := newTestMinio(f).Exists(context.Background(), "k")
	assert.Error(t, err)
}

func TestMinio_URL(t *testing.T) {
	f := newFakeMinio()
	u, err := newTestMinio(f).URL(context.Background(), "documents/u1/d1/a b.txt", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://minio.local/docs/"))
	assert.Equal(t, 15*time.Minute, f.presignTTL)
	assert.Contains(t, f.presignQuery.Get("response-content-disposition"), "attachment")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/octet-stream", contentType("blob.unknownext"))
	assert.True(t, strings.HasPrefix(contentType("a.txt"), "text/plain"))
}

func TestLocal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l, err := NewLocal(root)
	require.NoError(t, err)
	key := "documents/u1/d1/a.txt"

	loc, err := l.Upload(ctx, key, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc, "file://"))
	assert.True(t, strings.HasSuffix(loc, "/documents/u1/d1/a.txt"))

	b, err := os.ReadFile(filepath.Join(root, "documents", "u1", "d1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	ok, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := l.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	u, err := l.URL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, loc, u)

	require.NoError(t, l.Delete(ctx, key))
	ok, err = l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(root, "documents"))
	assert.True(t, os.IsNotExist(err), "empty parents should be pruned")

	require.NoError(t, l.Delete(ctx, key), "deleting a missing key succeeds")
	_, err = l.Download(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_RejectsTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "../x", "a/../../x", "/etc/passwd"} {
		_, err := l.Upload(context.Background(), key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
