package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const uploadSegment = "upload/"

var versionSegment = regexp.MustCompile(`^v[0-9]+/`)

// RemoteConfig holds the remote media host settings. Endpoint, AccessKey and
// SecretKey are the three credentials whose presence switches the backend.
type RemoteConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Folder        string
	UseSSL        bool
	PublicBaseURL string
	Timeout       time.Duration
}

// Configured reports whether all three credentials are present.
func (c RemoteConfig) Configured() bool {
	return strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != ""
}

type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// RemoteObjectStore uploads to a MinIO/S3 compatible media host.
type RemoteObjectStore struct {
	api     objectAPI
	bucket  string
	folder  string
	baseURL string
	timeout time.Duration
}

// NewRemoteObjectStore connects to the media host and ensures the bucket exists.
func NewRemoteObjectStore(cfg RemoteConfig) (*RemoteObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	cfg = withRemoteDefaults(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return newRemoteObjectStore(client, cfg), nil
}

func newRemoteObjectStore(api objectAPI, cfg RemoteConfig) *RemoteObjectStore {
	cfg = withRemoteDefaults(cfg)
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + strings.TrimSpace(cfg.Endpoint)
	}
	return &RemoteObjectStore{
		api:     api,
		bucket:  cfg.Bucket,
		folder:  strings.Trim(cfg.Folder, "/"),
		baseURL: base,
		timeout: cfg.Timeout,
	}
}

func withRemoteDefaults(cfg RemoteConfig) RemoteConfig {
	if strings.TrimSpace(cfg.Bucket) == "" {
		cfg.Bucket = "portal"
	}
	if strings.TrimSpace(cfg.Folder) == "" {
		cfg.Folder = "postulantes"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return cfg
}

func (r *RemoteObjectStore) Kind() string { return KindRemote }

// Save uploads the bytes and returns the public id and secure URL.
func (r *RemoteObjectStore) Save(ctx context.Context, up Upload) (Object, error) {
	ext := Extension(up.Filename)
	publicID := r.folder + "/" + uuid.NewString()
	if ext != "" {
		publicID += "." + ext
	}
	resourceType := ResourceTypeFor(ext)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	info, err := r.api.PutObject(ctx, r.bucket, objectKey(publicID), up.Body, up.Size, minio.PutObjectOptions{
		ContentType: up.ContentType,
		UserMetadata: map[string]string{
			"resource-type": string(resourceType),
			"original-name": up.Filename,
		},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	size := info.Size
	if size <= 0 {
		size = up.Size
	}
	return Object{
		StoredName:   publicID,
		Location:     r.secureURL(publicID),
		PublicID:     publicID,
		Format:       ext,
		ContentType:  up.ContentType,
		Size:         size,
		ResourceType: resourceType,
		Metadata: map[string]string{
			"public_id": publicID,
			"format":    ext,
		},
	}, nil
}

// Destroy removes an object by public id.
func (r *RemoteObjectStore) Destroy(ctx context.Context, publicID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.api.RemoveObject(ctx, r.bucket, objectKey(publicID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DeleteURL parses the public id out of a secure URL and destroys it.
func (r *RemoteObjectStore) DeleteURL(ctx context.Context, secureURL string) error {
	publicID, err := PublicIDFromURL(secureURL)
	if err != nil {
		return err
	}
	return r.Destroy(ctx, publicID)
}

// PresignURL returns a time-limited download URL for a stored secure URL.
func (r *RemoteObjectStore) PresignURL(ctx context.Context, secureURL string, expiry time.Duration) (string, error) {
	publicID, err := PublicIDFromURL(secureURL)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	u, err := r.api.PresignedGetObject(ctx, r.bucket, objectKey(publicID), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

func (r *RemoteObjectStore) secureURL(publicID string) string {
	return r.baseURL + "/" + r.bucket + "/" + objectKey(publicID)
}

func objectKey(publicID string) string {
	return uploadSegment + strings.TrimPrefix(publicID, "/")
}

// PublicIDFromURL extracts the identifier following the "/upload/" path
// segment, skipping an optional "v<digits>/" version segment.
func PublicIDFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	path := u.Path
	idx := strings.Index(path, "/"+uploadSegment)
	if idx < 0 {
		return "", fmt.Errorf("remote url %q has no upload segment", raw)
	}
	id := path[idx+len(uploadSegment)+1:]
	id = versionSegment.ReplaceAllString(id, "")
	if id == "" {
		return "", fmt.Errorf("remote url %q has no public id", raw)
	}
	return id, nil
}
