package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/christopherhwood/plank/location"
)

// S3Config configures the S3 fetcher.
type S3Config struct {
	// EndpointURL of the S3 compatible service, e.g. https://s3.amazonaws.com.
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	// MaxBytes limits object size (0 = unlimited).
	MaxBytes int64
}

// S3 fetches s3://bucket/key locations from an S3 compatible object store.
type S3 struct {
	client *minio.Client
	cfg    *S3Config
}

// NewS3 creates an S3 fetcher. Credentials are optional (anonymous access).
func NewS3(cfg *S3Config) (*S3, error) {
	if cfg == nil || cfg.EndpointURL == "" {
		return nil, errors.New("s3: endpointUrl is required")
	}
	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("s3: invalid endpoint URL: %w", err)
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.EndpointURL
	}
	useSSL := cfg.UseSSL
	if u.Scheme == "https" {
		useSSL = true
	}

	opts := &minio.Options{Secure: useSSL, Region: cfg.Region}
	if cfg.AccessKeyID != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		opts.Creds = credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	}
	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to create client: %w", err)
	}
	return &S3{client: client, cfg: cfg}, nil
}

func (s *S3) Fetch(ctx context.Context, loc location.Location) ([]byte, error) {
	bucket, key, err := SplitS3(loc)
	if err != nil {
		return nil, err
	}
	slogcontext.FromCtx(ctx).DebugContext(ctx, "fetching schema object", "bucket", bucket, "key", key)

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(loc, err)
	}
	defer obj.Close()
	data, err := readLimited(obj, s.cfg.MaxBytes)
	if err != nil {
		return nil, classifyS3Error(loc, err)
	}
	return data, nil
}

// SplitS3 returns the bucket and object key of an s3:// location.
func SplitS3(loc location.Location) (bucket, key string, err error) {
	if loc.Scheme() != "s3" {
		return "", "", fmt.Errorf("%w %q: s3 fetcher", ErrUnsupportedScheme, loc.Scheme())
	}
	u := loc.URL()
	if u == nil {
		return "", "", fmt.Errorf("%w: %s", location.ErrInvalidReference, loc)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s: want s3://bucket/key", location.ErrInvalidReference, loc)
	}
	return bucket, key, nil
}

func classifyS3Error(loc location.Location, err error) error {
	if errors.Is(err, ErrTooLarge) {
		return fmt.Errorf("%s: %w", loc, err)
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %s: %s", ErrNotFound, loc, resp.Message)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%s: access denied: %w", loc, err)
	}
	return fmt.Errorf("%s: %w", loc, err)
}
