package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pdxmph/ptto115/pkg/duplicate"
)

// S3API is the part of the S3 client the uploader uses
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 backend
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	// UploadOnMiss sends the bytes when no object with the same hash exists
	UploadOnMiss bool
}

// S3Uploader emulates instant upload on a bucket: content lives once under
// "<prefix>objects/<sha1>" and every upload is a server-side copy of it to
// "<prefix><pid>/<name>".
type S3Uploader struct {
	client S3API
	config S3Config
}

// NewS3Uploader wraps an existing client
func NewS3Uploader(client S3API, cfg S3Config) *S3Uploader {
	return &S3Uploader{client: client, config: cfg}
}

// NewS3UploaderFromConfig builds the AWS client from cfg
func NewS3UploaderFromConfig(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 backend requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3Uploader(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Name identifies the backend
func (u *S3Uploader) Name() string {
	return "s3"
}

// InstantUpload copies the content-addressed object into place when it
// exists, optionally uploading it first on a miss.
func (u *S3Uploader) InstantUpload(ctx context.Context, req Request) Result {
	sum := req.SHA1
	if sum == "" {
		var err error
		sum, err = duplicate.CalculateFileSHA1(req.Path)
		if err != nil {
			return Failed(fmt.Errorf("hash %s: %w", req.Path, err))
		}
	}

	objectKey := u.objectKey(sum)
	exists, err := u.objectExists(ctx, objectKey)
	if err != nil {
		return Failed(err)
	}

	if !exists {
		if !u.config.UploadOnMiss {
			return HashOnly(sum)
		}
		if err := u.putObject(ctx, req, objectKey, sum); err != nil {
			return Failed(err)
		}
	}

	_, err = u.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(u.config.Bucket),
		Key:               aws.String(u.targetKey(req)),
		CopySource:        aws.String(u.config.Bucket + "/" + objectKey),
		Metadata:          map[string]string{"sha1": sum},
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return Failed(fmt.Errorf("s3 copy %s: %w", objectKey, err))
	}

	return Completed(sum)
}

func (u *S3Uploader) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.config.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFoundError(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %s: %w", key, err)
}

func (u *S3Uploader) putObject(ctx context.Context, req Request, key, sum string) error {
	file, err := os.Open(req.Path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.config.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(req.Size),
		Metadata:      map[string]string{"sha1": sum},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (u *S3Uploader) objectKey(sum string) string {
	return u.config.Prefix + "objects/" + sum
}

func (u *S3Uploader) targetKey(req Request) string {
	return u.config.Prefix + path.Join(strconv.FormatInt(req.TargetPID, 10), req.Name)
}

func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}
