package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound reports that the requested key does not exist in the store.
// Callers use it to tell a missing object apart from a transient failure.
var ErrNotFound = errors.New("blob: object not found")

// Object describes a stored object as returned by List and Stat.
// ContentType is populated by Stat only; ListObjectsV2 does not carry it.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Client is a thin wrapper around the AWS SDK v2 S3 client tuned for
// S3-compatible endpoints (MinIO, SeaweedFS, Garage). It performs no
// retries of its own; callers decide whether an operation is worth
// repeating.
type Client struct {
	api        *s3.Client
	presign    *s3.PresignClient
	bucket     string
	publicBase string
}

// NewClientFromEnv initialises a Client using environment variables.
//
// Required:
//   - S3_ENDPOINT: host:port or full URL of the S3 endpoint.
//   - S3_ACCESS_KEY / S3_SECRET_KEY: static credentials.
//   - S3_BUCKET: bucket holding deployment blobs.
//
// Optional:
//   - S3_REGION (default "us-east-1").
//   - S3_DISABLE_TLS (bool; default false).
//   - S3_FORCE_PATH_STYLE (bool; default true).
//   - S3_PUBLIC_BASE_URL: externally reachable base for public object
//     URLs. Defaults to "<endpoint>/<bucket>" (path-style).
func NewClientFromEnv() (*Client, error) {
	endpoint := strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	bucket := strings.TrimSpace(os.Getenv("S3_BUCKET"))
	region := os.Getenv("S3_REGION")
	if region == "" {
		region = "us-east-1"
	}

	if endpoint == "" {
		return nil, errors.New("S3_ENDPOINT is required")
	}
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	if bucket == "" {
		return nil, errors.New("S3_BUCKET is required")
	}

	disableTLS, _ := strconv.ParseBool(os.Getenv("S3_DISABLE_TLS"))
	forcePathStyle := true
	if v := strings.TrimSpace(os.Getenv("S3_FORCE_PATH_STYLE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			forcePathStyle = parsed
		}
	}

	scheme := "https"
	if disableTLS {
		scheme = "http"
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	publicBase := strings.TrimSpace(os.Getenv("S3_PUBLIC_BASE_URL"))
	if publicBase == "" {
		publicBase = fmt.Sprintf("%s/%s", strings.TrimRight(endpoint, "/"), bucket)
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Client{
		api:        client,
		presign:    s3.NewPresignClient(client),
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// Put uploads data under key, replacing any existing object at that key.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if c == nil {
		return errors.New("nil client")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.bucket,
		Key:           &key,
		Body:          r,
		ContentLength: &size,
		ContentType:   &contentType,
	})
	return err
}

// Get reads the object at key in full. A missing key yields ErrNotFound;
// any other failure is returned as-is for the caller to judge.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// Stat describes the object at key without reading it. A missing key yields
// ErrNotFound. The returned size and content type come from the store itself,
// so callers can trust them over anything a client claims.
func (c *Client) Stat(ctx context.Context, key string) (Object, error) {
	if c == nil {
		return Object{}, errors.New("nil client")
	}

	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}

	obj := Object{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		obj.LastModified = *out.LastModified
	}
	return obj, nil
}

// Delete removes the object at key. Deleting a key that does not exist is
// not an error; S3 DeleteObject is already a no-op in that case.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil {
		return errors.New("nil client")
	}

	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	return err
}

// List walks all objects under prefix, paging through the bucket.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: &c.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}

	return objects, nil
}

// PublicURL derives the externally reachable URL for key. The bucket is
// expected to allow anonymous reads; delivery is delegated entirely to the
// object store's own endpoint.
func (c *Client) PublicURL(key string) string {
	if c == nil {
		return ""
	}
	escaped := url.PathEscape(key)
	// PathEscape encodes "/" too; keys are slash-partitioned paths.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return c.publicBase + "/" + escaped
}

// PresignPut generates a presigned PUT URL for uploading an object within
// the provided TTL. Used by the upload-ingestion flow so file payloads never
// pass through the API process.
func (c *Client) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}

	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}

	return req.URL, nil
}
