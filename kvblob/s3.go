package kvblob

import (
	"bytes"
	"context"
	"errors"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/precondition"
)

// S3Client is the subset of the AWS S3 SDK client this adapter needs,
// narrowed for dependency injection and mocking (grounded on the
// teacher's storage.S3Client interface).
type S3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	RestoreObject(ctx context.Context, params *s3.RestoreObjectInput, optFns ...func(*s3.Options)) (*s3.RestoreObjectOutput, error)
}

// S3Store implements Blob over AWS S3 (component A, "prod" substrate).
type S3Store struct {
	client    S3Client
	bucket    string
	verified  *verifiedContainers
	log       *common.ContextLogger
}

// NewS3Store builds an S3Store from a region (credentials resolved via
// the default AWS SDK chain, same as the teacher's S3AwsUploadFile).
func NewS3Store(ctx context.Context, region, bucket string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "loading AWS config")
	}
	client := s3.NewFromConfig(cfg)
	return NewS3StoreWithClient(client, bucket), nil
}

// NewS3StoreWithClient builds an S3Store around an already-configured
// client, for tests and for callers sharing a client across stores.
func NewS3StoreWithClient(client S3Client, bucket string) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   bucket,
		verified: newVerifiedContainers(),
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "kvblob.S3Store", "bucket": bucket}),
	}
}

func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: awsconfig.String(s.bucket), Key: awsconfig.String(path)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapS3Error(err, s.bucket, path)
	}
	return true, nil
}

func (s *S3Store) GetProperties(ctx context.Context, path string) (Properties, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: awsconfig.String(s.bucket), Key: awsconfig.String(path)})
	if err != nil {
		return Properties{}, mapS3Error(err, s.bucket, path)
	}
	p := Properties{}
	if out.ETag != nil {
		p.ETag = *out.ETag
	}
	if out.ContentLength != nil {
		p.Size = *out.ContentLength
	}
	return p, nil
}

func (s *S3Store) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: awsconfig.String(s.bucket), Key: awsconfig.String(path)})
	if err != nil {
		return nil, mapS3Error(err, s.bucket, path)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "reading object body")
	}
	return data, nil
}

func (s *S3Store) Write(ctx context.Context, path string, data []byte, cond precondition.Precondition) (Properties, error) {
	input := &s3.PutObjectInput{
		Bucket: awsconfig.String(s.bucket),
		Key:    awsconfig.String(path),
		Body:   bytes.NewReader(data),
	}
	switch cond.Kind() {
	case precondition.CreateOnly:
		input.IfNoneMatch = awsconfig.String("*")
	case precondition.MatchVersion:
		input.IfMatch = awsconfig.String(cond.Version())
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return Properties{}, errs.Wrapf(errs.ConcurrencyConflict, err, "precondition %s failed for %s", cond, path)
		}
		return Properties{}, mapS3Error(err, s.bucket, path)
	}

	s.log.WithFields(map[string]interface{}{"path": path, "bytes": humanize.Bytes(uint64(len(data)))}).Debug("wrote object")

	p := Properties{}
	if out.ETag != nil {
		p.ETag = *out.ETag
	}
	p.Size = int64(len(data))
	return p, nil
}

func (s *S3Store) Delete(ctx context.Context, path string, cond precondition.Precondition) error {
	input := &s3.DeleteObjectInput{Bucket: awsconfig.String(s.bucket), Key: awsconfig.String(path)}
	if cond.Kind() == precondition.MatchVersion {
		input.IfMatch = awsconfig.String(cond.Version())
	}
	_, err := s.client.DeleteObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return errs.Wrapf(errs.ConcurrencyConflict, err, "precondition %s failed deleting %s", cond, path)
		}
		return mapS3Error(err, s.bucket, path)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix, token string, pageSize int) (Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  awsconfig.String(s.bucket),
		Prefix:  awsconfig.String(prefix),
		MaxKeys: awsconfig.Int32(int32(pageSize)),
	}
	if token != "" {
		input.ContinuationToken = awsconfig.String(token)
	}
	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return Page{}, mapS3Error(err, s.bucket, prefix)
	}
	items := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key != nil {
			items = append(items, *obj.Key)
		}
	}
	page := Page{Items: items}
	if out.NextContinuationToken != nil {
		page.NextToken = *out.NextContinuationToken
	}
	return page, nil
}

func (s *S3Store) SetTier(ctx context.Context, path, tier string, highPriority bool) error {
	priority := types.TierStandard
	if highPriority {
		priority = types.TierExpedited
	}
	_, err := s.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: awsconfig.String(s.bucket),
		Key:    awsconfig.String(path),
		RestoreRequest: &types.RestoreRequest{
			Days: awsconfig.Int32(7),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: priority,
			},
		},
	})
	if err != nil {
		return mapS3Error(err, s.bucket, path)
	}
	_ = tier // tier naming is substrate-specific; S3 expresses it via storage class on write, restore tier on read
	return nil
}

func (s *S3Store) EnsureContainer(ctx context.Context) error {
	if s.verified.has(s.bucket) {
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: awsconfig.String(s.bucket)})
	if err == nil {
		s.verified.markVerified(s.bucket)
		return nil
	}
	if !isNotFound(err) {
		return mapS3Error(err, s.bucket, "")
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: awsconfig.String(s.bucket)}); err != nil {
		return errs.Wrapf(errs.Transient, err, "creating bucket %s", s.bucket)
	}
	s.verified.markVerified(s.bucket)
	return nil
}

func (s *S3Store) Healthy(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: awsconfig.String(s.bucket)})
	if err != nil {
		return mapS3Error(err, s.bucket, "")
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	return errors.As(err, &nsb)
}

func isPreconditionFailed(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}

func mapS3Error(err error, bucket, path string) error {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return errs.Wrapf(errs.ContainerNotFound, err, "bucket %s", bucket)
	}
	if isNotFound(err) {
		return errs.Wrapf(errs.NotFound, err, "object %s in bucket %s", path, bucket)
	}
	return errs.Wrapf(errs.Transient, err, "s3 operation on %s/%s", bucket, path)
}
