package s3

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitharbor/annex/blobstore"
)

// fakeS3 is an in-memory stand-in for the S3 API subset the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, params *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = data
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}

	start, end := int64(0), int64(len(data))-1
	if r := aws.ToString(params.Range); r != "" {
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
	}
	body := data[start : end+1]
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(body))),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *awss3.CreateMultipartUploadInput, ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported in fake")
}

func (f *fakeS3) UploadPart(context.Context, *awss3.UploadPartInput, ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	return nil, fmt.Errorf("multipart not supported in fake")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *awss3.CompleteMultipartUploadInput, ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported in fake")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *awss3.AbortMultipartUploadInput, ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported in fake")
}

// fakeDDB is an in-memory commit table.
type fakeDDB struct {
	mu      sync.Mutex
	commits []struct {
		version uint64
		name    string
	}
	failNextPut bool
}

func (f *fakeDDB) Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commits) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	latest := f.commits[len(f.commits)-1]
	return &dynamodb.QueryOutput{
		Items: []map[string]ddbtypes.AttributeValue{{
			"version":       &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", latest.version)},
			"snapshot_name": &ddbtypes.AttributeValueMemberS{Value: latest.name},
		}},
	}, nil
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextPut {
		f.failNextPut = false
		return nil, &ddbtypes.ConditionalCheckFailedException{}
	}

	versionAttr := params.Item["version"].(*ddbtypes.AttributeValueMemberN)
	var version uint64
	fmt.Sscanf(versionAttr.Value, "%d", &version)
	for _, c := range f.commits {
		if c.version == version {
			return nil, &ddbtypes.ConditionalCheckFailedException{}
		}
	}
	nameAttr := params.Item["snapshot_name"].(*ddbtypes.AttributeValueMemberS)
	f.commits = append(f.commits, struct {
		version uint64
		name    string
	}{version: version, name: nameAttr.Value})
	return &dynamodb.PutItemOutput{}, nil
}

func TestStore_PutOpenReadAt(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeS3(), "bucket", "prefix")

	data := []byte("0123456789abcdef")
	require.NoError(t, store.Put(ctx, "snapshots/0001.tar", data))

	blob, err := store.Open(ctx, "snapshots/0001.tar")
	require.NoError(t, err)
	defer blob.Close()
	assert.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 6)
	n, err := blob.ReadAt(ctx, buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("abcdef"), buf)
}

func TestStore_OpenNotFound(t *testing.T) {
	store := NewStore(newFakeS3(), "bucket", "prefix")
	_, err := store.Open(context.Background(), "missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_CreateStreams(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeS3(), "bucket", "prefix")

	w, err := store.Create(ctx, "streamed")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	blob, err := store.Open(ctx, "streamed")
	require.NoError(t, err)
	defer blob.Close()
	got, err := blobstore.ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestStore_ListStripsPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeS3(), "bucket", "prefix")

	require.NoError(t, store.Put(ctx, "snapshots/0001.tar", []byte("a")))
	require.NoError(t, store.Put(ctx, "snapshots/0002.tar", []byte("b")))

	names, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/0001.tar", "snapshots/0002.tar"}, names)
}

func TestCommitStore_PointerVersions(t *testing.T) {
	ctx := context.Background()
	ddb := &fakeDDB{}
	store := NewCommitStore(NewStore(newFakeS3(), "bucket", "prefix"), ddb, "annex-commits", "s3://bucket/prefix")

	// No commits yet.
	_, err := store.Open(ctx, blobstore.CurrentPointer)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, blobstore.CurrentPointer, []byte("snapshots/0001.tar")))
	require.NoError(t, store.Put(ctx, blobstore.CurrentPointer, []byte("snapshots/0002.tar")))

	blob, err := store.Open(ctx, blobstore.CurrentPointer)
	require.NoError(t, err)
	got, err := blobstore.ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshots/0002.tar"), got)
}

func TestCommitStore_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	ddb := &fakeDDB{failNextPut: true}
	store := NewCommitStore(NewStore(newFakeS3(), "bucket", "prefix"), ddb, "annex-commits", "s3://bucket/prefix")

	err := store.Put(ctx, blobstore.CurrentPointer, []byte("snapshots/0001.tar"))
	require.ErrorIs(t, err, ErrConcurrentModification)
}
