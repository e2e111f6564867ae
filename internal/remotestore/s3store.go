package remotestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vaultsync/vaultsync/internal/vaultsync"
)

// s3TagPrefix mirrors the httpstore appProperties mechanism: every
// key in UploadFile's appProps is written as an S3 object tag with this
// prefix so echo suppression works identically against either backend.
const s3TagPrefix = "vaultsync-"

// S3Client is the subset of *s3.Client S3Store depends on, narrowed for
// testability.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
}

// S3Store is a vaultsync.RemoteStore backed by an S3-compatible bucket.
// Each vault path becomes an object key under a vaultID prefix; the
// revision identifier is the object's VersionId (falling back to ETag on
// an unversioned bucket); appProperties are modeled as object tags since
// S3 metadata cannot be updated without a full copy.
type S3Store struct {
	client S3Client
	bucket string
	prefix string // key prefix this store owns, always ending in "/"
	logger *slog.Logger
}

// NewS3Store creates an S3Store against an already-configured client. prefix
// is the key prefix every object this store manages lives under (typically
// the vault id, optionally with an operator-configured path prefix ahead of
// it) — a trailing "/" is added if missing. One S3Store instance serves one
// vault, so the prefix is fixed at construction rather than threaded through
// every call the way vaultID is on ListFiles/GetChanges.
func NewS3Store(client S3Client, bucket, prefix string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Store{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// ListFiles lists every object under the store's prefix. vaultID is
// accepted to satisfy vaultsync.RemoteStore but otherwise unused: the
// prefix this store scans is fixed at construction.
func (s *S3Store) ListFiles(ctx context.Context, _ string) ([]vaultsync.RemoteFile, error) {
	prefix := s.prefix

	var (
		files             []vaultsync.RemoteFile
		continuationToken *string
	)

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, classifyS3Error(err)
		}

		for _, obj := range out.Contents {
			rf, err := s.describeObject(ctx, *obj.Key, prefix)
			if err != nil {
				s.logger.Warn("skip object with unreadable metadata", "key", *obj.Key, "error", err)
				continue
			}

			files = append(files, rf)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}

		continuationToken = out.NextContinuationToken
	}

	return files, nil
}

func (s *S3Store) describeObject(ctx context.Context, key, prefix string) (vaultsync.RemoteFile, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return vaultsync.RemoteFile{}, classifyS3Error(err)
	}

	appProps := s.readTags(ctx, key)

	rf := vaultsync.RemoteFile{
		ID:            key,
		Path:          strings.TrimPrefix(key, prefix),
		AppProperties: appProps,
	}

	if head.ContentLength != nil {
		rf.Size = *head.ContentLength
	}

	if head.LastModified != nil {
		rf.ModifiedTime = *head.LastModified
	}

	if head.ContentType != nil {
		rf.MimeType = *head.ContentType
	}

	rf.HeadRevisionID = revisionID(head.VersionId, head.ETag)

	return rf, nil
}

func revisionID(versionID, etag *string) string {
	if versionID != nil && *versionID != "" {
		return *versionID
	}

	if etag != nil {
		return strings.Trim(*etag, `"`)
	}

	return ""
}

func (s *S3Store) readTags(ctx context.Context, key string) map[string]string {
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil
	}

	props := make(map[string]string)

	for _, tag := range out.TagSet {
		if tag.Key == nil || tag.Value == nil {
			continue
		}

		if name, ok := strings.CutPrefix(*tag.Key, s3TagPrefix); ok {
			props[name] = *tag.Value
		}
	}

	if len(props) == 0 {
		return nil
	}

	return props
}

// UploadFile stores data at the store's prefix joined with path, the same
// key shape ListFiles/describeObject expect.
func (s *S3Store) UploadFile(ctx context.Context, path string, data []byte, mimeType string, appProps map[string]string) (vaultsync.UploadResult, error) {
	key := s.prefix + path

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
		Tagging:     aws.String(encodeTags(appProps)),
	})
	if err != nil {
		return vaultsync.UploadResult{}, classifyS3Error(err)
	}

	return vaultsync.UploadResult{ID: key, HeadRevisionID: revisionID(out.VersionId, out.ETag)}, nil
}

func encodeTags(appProps map[string]string) string {
	values := make([]string, 0, len(appProps))
	for k, v := range appProps {
		values = append(values, s3TagPrefix+k+"="+v)
	}

	return strings.Join(values, "&")
}

// DownloadFile streams id's full content into memory.
func (s *S3Store) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(id)})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("vaultsync: read s3 object body: %w", err)
	}

	return data, nil
}

// DeleteFile removes id from the bucket.
func (s *S3Store) DeleteFile(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(id)})
	if err != nil {
		return classifyS3Error(err)
	}

	return nil
}

// GetChanges is not supported by the plain S3 backend (no changes feed
// without S3 Event Notifications wired to an external queue, which is out
// of scope); callers must not enable incremental polling against S3Store.
func (s *S3Store) GetChanges(_ context.Context, _ string) ([]vaultsync.RemoteChange, string, error) {
	return nil, "", fmt.Errorf("vaultsync: S3Store does not support incremental polling")
}

// GetStartPageToken mirrors GetChanges's lack of support.
func (s *S3Store) GetStartPageToken(_ context.Context) (string, error) {
	return "", fmt.Errorf("vaultsync: S3Store does not support incremental polling")
}

// GetFileMetadata fetches a single object's current metadata.
func (s *S3Store) GetFileMetadata(ctx context.Context, id string) (vaultsync.RemoteFile, error) {
	return s.describeObject(ctx, id, s.prefix)
}

// classifyS3Error maps a generic AWS SDK error into the sentinel error
// classes the Reconciler reacts to. The SDK's *types.NoSuchKey and
// *types.NotFound don't cleanly distinguish auth failures from other 4xx
// responses, so anything not identifiably a missing-object error is
// treated as transient rather than guessed at.
func classifyS3Error(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %v", vaultsync.ErrDataIntegrity, err)
	}

	return fmt.Errorf("%w: %v", vaultsync.ErrTransient, err)
}
