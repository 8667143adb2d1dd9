package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bitharbor/annex/blobstore"
)

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentModification is returned when another publisher committed a
// snapshot pointer concurrently.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// CommitStore implements blobstore.Store backed by S3 with DynamoDB for
// atomic CURRENT pointer commits. S3 has no compare-and-swap, so with
// plain S3 two concurrent publishers can silently overwrite each other's
// pointer; DynamoDB conditional writes give the commit the CAS it needs.
//
// Table schema:
//   - Partition key: catalog (string) - the snapshot prefix being published
//   - Sort key: version (number) - monotonically increasing commit version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name annex-commits \
//	  --attribute-definitions AttributeName=catalog,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=catalog,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	inner     *Store
	ddbClient DDBClient
	tableName string
	catalog   string
}

// Compile-time check that CommitStore satisfies blobstore.Store.
var _ blobstore.Store = (*CommitStore)(nil)

// NewCommitStore creates an S3+DynamoDB commit store. catalog identifies
// the snapshot stream in the commit table (e.g. "s3://bucket/prefix").
func NewCommitStore(inner *Store, ddbClient DDBClient, tableName, catalog string) *CommitStore {
	return &CommitStore{
		inner:     inner,
		ddbClient: ddbClient,
		tableName: tableName,
		catalog:   catalog,
	}
}

// Open opens a blob for reading. The CURRENT pointer is served from the
// commit table rather than S3.
func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == blobstore.CurrentPointer {
		version, snapshotName, err := s.latestCommit(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return &pointerBlob{content: []byte(snapshotName)}, nil
	}
	return s.inner.Open(ctx, name)
}

// Put writes a blob. The CURRENT pointer goes through a conditional write.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == blobstore.CurrentPointer {
		return s.commit(ctx, string(data))
	}
	return s.inner.Put(ctx, name, data)
}

// Create creates a writable blob.
func (s *CommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

// Delete removes a blob.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List lists blobs with the given prefix.
func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// latestCommit queries the commit table for the newest committed version.
func (s *CommitStore) latestCommit(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("catalog = :catalog"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":catalog": &types.AttributeValueMemberS{Value: s.catalog},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit table: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit table")
	}
	nameAttr, ok := item["snapshot_name"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid snapshot_name attribute in commit table")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse commit version: %w", err)
	}
	return version, nameAttr.Value, nil
}

// commit atomically records a new pointer version with a conditional put.
func (s *CommitStore) commit(ctx context.Context, snapshotName string) error {
	currentVersion, _, err := s.latestCommit(ctx)
	if err != nil {
		return err
	}
	newVersion := currentVersion + 1

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"catalog":       &types.AttributeValueMemberS{Value: s.catalog},
			"version":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newVersion)},
			"snapshot_name": &types.AttributeValueMemberS{Value: snapshotName},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit pointer version: %w", err)
	}
	return nil
}

// pointerBlob serves the CURRENT pointer content from memory.
type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, nil
	}
	return copy(p, b.content[off:]), nil
}

func (b *pointerBlob) Size() int64 {
	return int64(len(b.content))
}

func (b *pointerBlob) Close() error {
	return nil
}
