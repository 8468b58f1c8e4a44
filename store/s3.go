package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	vaultapi "github.com/hashicorp/vault/api"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// Option keys recognized by the s3 driver. Credentials come either from the
// access/secret options directly or from a Vault KV-v2 secret holding
// "access_key" and "secret_key" fields.
const (
	OptS3Host      = "s3_store_host"
	OptS3Region    = "s3_store_region"
	OptS3Bucket    = "s3_store_bucket"
	OptS3AccessKey = "s3_store_access_key"
	OptS3SecretKey = "s3_store_secret_key"

	OptS3VaultAddr  = "s3_store_vault_addr"
	OptS3VaultToken = "s3_store_vault_token"
	OptS3VaultPath  = "s3_store_vault_path"
)

// S3Address locates an object in an S3-compatible store. Credentials are
// deliberately not part of the address: they belong to the driver
// configuration, not to the object identity.
type S3Address struct {
	Host   string // endpoint host[:port]
	Bucket string
	Key    string
}

// URI renders the address as s3://host/bucket/key.
func (a S3Address) URI() string {
	return fmt.Sprintf("s3://%s/%s/%s", a.Host, a.Bucket, a.Key)
}

// ParseS3URI parses s3:// location URIs of the form s3://host/bucket/key.
func ParseS3URI(uri string) (interfaces.Address, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedLocation, err)
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("%w: unexpected scheme in %q", interfaces.ErrMalformedLocation, uri)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing endpoint host in %q", interfaces.ErrMalformedLocation, uri)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: expected s3://host/bucket/key, got %q", interfaces.ErrMalformedLocation, uri)
	}
	return S3Address{Host: u.Host, Bucket: bucket, Key: key}, nil
}

// S3Store persists images in an S3-compatible object store. Uploads stream
// through the SDK's multipart uploader, so object size is not bounded by
// memory.
type S3Store struct {
	host   string
	bucket string

	client   *s3.S3
	uploader *s3manager.Uploader
	log      *slog.Logger
}

// S3Driver returns the driver descriptor for the s3 store.
func S3Driver() Driver {
	return Driver{
		Name:    "s3",
		Schemes: []string{"s3"},
		Parse:   ParseS3URI,
		New: func(log *slog.Logger) interfaces.Store {
			return &S3Store{log: log}
		},
	}
}

// Configure validates the endpoint and credential options and builds the SDK
// clients.
func (s *S3Store) Configure(opts interfaces.Options) error {
	s.host = opts.String(OptS3Host)
	s.bucket = opts.String(OptS3Bucket)
	if s.host == "" {
		return fmt.Errorf("%w: %s is required", interfaces.ErrInvalidConfiguration, OptS3Host)
	}
	if s.bucket == "" {
		return fmt.Errorf("%w: %s is required", interfaces.ErrInvalidConfiguration, OptS3Bucket)
	}

	accessKey, secretKey, err := s.resolveCredentials(opts)
	if err != nil {
		return err
	}

	region := opts.String(OptS3Region)
	if region == "" {
		region = "us-east-1"
	}

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(region),
		Endpoint:         aws.String(s.host),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
	})
	if err != nil {
		return fmt.Errorf("%w: creating AWS session: %v", interfaces.ErrInvalidConfiguration, err)
	}

	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploaderWithClient(s.client)
	return nil
}

// resolveCredentials returns the access key pair, preferring direct options
// and falling back to a Vault KV-v2 secret when a vault path is configured.
func (s *S3Store) resolveCredentials(opts interfaces.Options) (string, string, error) {
	accessKey := opts.String(OptS3AccessKey)
	secretKey := opts.String(OptS3SecretKey)
	if accessKey != "" && secretKey != "" {
		return accessKey, secretKey, nil
	}

	vaultPath := opts.String(OptS3VaultPath)
	if vaultPath == "" {
		return "", "", fmt.Errorf("%w: either %s/%s or %s must be set",
			interfaces.ErrInvalidConfiguration, OptS3AccessKey, OptS3SecretKey, OptS3VaultPath)
	}

	cfg := vaultapi.DefaultConfig()
	if addr := opts.String(OptS3VaultAddr); addr != "" {
		cfg.Address = addr
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return "", "", fmt.Errorf("%w: creating Vault client: %v", interfaces.ErrInvalidConfiguration, err)
	}
	if token := opts.String(OptS3VaultToken); token != "" {
		client.SetToken(token)
	}

	secret, err := client.Logical().Read(vaultPath)
	if err != nil {
		return "", "", fmt.Errorf("%w: reading S3 credentials from Vault: %v", interfaces.ErrRemoteUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return "", "", fmt.Errorf("%w: no S3 credentials at vault path %s", interfaces.ErrInvalidConfiguration, vaultPath)
	}

	// KV v2 nests the fields under "data"
	data := secret.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	accessKey, _ = data["access_key"].(string)
	secretKey, _ = data["secret_key"].(string)
	if accessKey == "" || secretKey == "" {
		return "", "", fmt.Errorf("%w: vault secret at %s is missing access_key/secret_key",
			interfaces.ErrInvalidConfiguration, vaultPath)
	}
	return accessKey, secretKey, nil
}

// Schemes returns the schemes handled by this store.
func (s *S3Store) Schemes() []string {
	return []string{"s3"}
}

// Capabilities heads the configured bucket; an unreachable endpoint disables
// everything.
func (s *S3Store) Capabilities(ctx context.Context) interfaces.Capabilities {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		s.log.Debug("S3 bucket unreachable", slog.String("bucket", s.bucket), "err", err)
		return interfaces.Capabilities{}
	}
	return interfaces.Capabilities{Read: true, Write: true, Delete: true}
}

// Add streams the image into the bucket under the image id. An existing
// object at the key is a Duplicate; a size mismatch at end of stream removes
// the uploaded object before failing.
func (s *S3Store) Add(ctx context.Context, id string, r io.Reader, size int64) (*interfaces.AddResult, error) {
	if !s.Capabilities(ctx).Write {
		return nil, interfaces.ErrAddDisabled
	}

	addr := S3Address{Host: s.host, Bucket: s.bucket, Key: id}
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDuplicate, addr.URI())
	}
	if !isS3NotFound(err) {
		return nil, mapS3Error(err, addr.URI())
	}

	tr := NewTransfer(size)
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
		Body:   tr.Reader(r),
	})
	if err != nil {
		return nil, mapS3Error(err, addr.URI())
	}

	written, checksum, err := tr.Finish()
	if err != nil {
		s.discard(ctx, id)
		return nil, err
	}

	s.log.Debug("Stored image in S3",
		slog.String("bucket", s.bucket),
		slog.String("key", id),
		slog.Int64("size", written))

	return &interfaces.AddResult{
		Location: &interfaces.Location{Scheme: "s3", Address: addr},
		Size:     written,
		Checksum: checksum,
	}, nil
}

// Get streams the object body.
func (s *S3Store) Get(ctx context.Context, loc *interfaces.Location) (io.ReadCloser, int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return nil, 0, err
	}

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(addr.Bucket),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return nil, 0, mapS3Error(err, addr.URI())
	}
	return out.Body, aws.Int64Value(out.ContentLength), nil
}

// Delete removes the object.
func (s *S3Store) Delete(ctx context.Context, loc *interfaces.Location) error {
	if !s.Capabilities(ctx).Delete {
		return interfaces.ErrDeleteDisabled
	}
	addr, err := s.address(loc)
	if err != nil {
		return err
	}

	// DeleteObject succeeds on absent keys, so probe first to honor the
	// NotFound contract.
	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(addr.Bucket),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return mapS3Error(err, addr.URI())
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(addr.Bucket),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return mapS3Error(err, addr.URI())
	}
	return nil
}

// Size reads the object's metadata without fetching the body.
func (s *S3Store) Size(ctx context.Context, loc *interfaces.Location) (int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return 0, err
	}

	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(addr.Bucket),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return 0, mapS3Error(err, addr.URI())
	}
	return aws.Int64Value(out.ContentLength), nil
}

func (s *S3Store) address(loc *interfaces.Location) (S3Address, error) {
	addr, ok := loc.Address.(S3Address)
	if !ok {
		return S3Address{}, fmt.Errorf("%w: not an s3 location", interfaces.ErrMalformedLocation)
	}
	return addr, nil
}

func (s *S3Store) discard(ctx context.Context, key string) {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Warn("Failed to remove partial S3 object", slog.String("key", key), "err", err)
	}
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	var rf awserr.RequestFailure
	return errors.As(err, &rf) && rf.StatusCode() == 404
}

// mapS3Error translates SDK failures into the framework taxonomy.
func mapS3Error(err error, uri string) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, uri)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrRemoteUnavailable, err)
}
