package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"applyportal/internal/util"
	"applyportal/pkg/domain"
)

const (
	KindLocal  = "local"
	KindRemote = "remote"
)

var ErrRemoteNotConfigured = errors.New("remote object store is not configured")

// Upload is a file about to be persisted.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	Body        io.Reader
}

// Object describes where an upload ended up.
type Object struct {
	StoredName   string
	Location     string
	PublicID     string
	Format       string
	ContentType  string
	Size         int64
	ResourceType domain.ResourceType
	Metadata     map[string]string
}

// Backend persists upload bytes.
type Backend interface {
	Kind() string
	Save(ctx context.Context, up Upload) (Object, error)
}

// Config selects and configures the storage backends.
type Config struct {
	LocalDir string
	Remote   RemoteConfig
}

// Storage routes uploads to the backend chosen at construction and mirrors
// that choice on delete based on each record's location.
type Storage struct {
	active        Backend
	local         *LocalDisk
	remote        *RemoteObjectStore
	presignExpiry time.Duration
}

// New builds the local backend and, when all remote credentials are present,
// the remote one. The remote backend becomes the active target for uploads.
func New(cfg Config) (*Storage, error) {
	local, err := NewLocalDisk(cfg.LocalDir)
	if err != nil {
		return nil, err
	}
	var remote *RemoteObjectStore
	if cfg.Remote.Configured() {
		remote, err = NewRemoteObjectStore(cfg.Remote)
		if err != nil {
			return nil, err
		}
	}
	return NewWithBackends(local, remote), nil
}

// NewWithBackends wires prebuilt backends. A nil remote selects local disk.
func NewWithBackends(local *LocalDisk, remote *RemoteObjectStore) *Storage {
	s := &Storage{local: local, remote: remote, presignExpiry: 15 * time.Minute}
	if remote != nil {
		s.active = remote
	} else {
		s.active = local
	}
	return s
}

// Kind reports which backend receives new uploads.
func (s *Storage) Kind() string {
	return s.active.Kind()
}

// Save validates nothing; callers run ValidateFile first.
func (s *Storage) Save(ctx context.Context, up Upload) (Object, error) {
	ext := Extension(up.Filename)
	if up.ContentType == "" || up.ContentType == "application/octet-stream" {
		up.ContentType = ContentTypeFor(ext)
	}
	meta := map[string]string{}
	if ext == "pdf" {
		if ra, ok := up.Body.(io.ReaderAt); ok {
			pages, err := CountPDFPages(ra, up.Size)
			if err != nil {
				util.LoggerFromContext(ctx).Debug("pdf inspection failed", "filename", up.Filename, "err", err)
			} else {
				meta["pages"] = fmt.Sprint(pages)
			}
		}
	}
	obj, err := s.active.Save(ctx, up)
	if err != nil {
		return Object{}, err
	}
	if obj.Metadata == nil {
		obj.Metadata = map[string]string{}
	}
	for k, v := range meta {
		obj.Metadata[k] = v
	}
	return obj, nil
}

// Delete removes stored bytes. Remote URLs go through the remote API, paths
// through the filesystem.
func (s *Storage) Delete(ctx context.Context, location string) error {
	if domain.IsRemoteLocation(location) {
		if s.remote == nil {
			return ErrRemoteNotConfigured
		}
		return s.remote.DeleteURL(ctx, location)
	}
	return s.local.Delete(location)
}

// Download tells the caller how to serve a stored file: either a URL to
// redirect to or a local path to stream.
type Download struct {
	RedirectURL string
	Path        string
}

// Download resolves a location for serving.
func (s *Storage) Download(ctx context.Context, location string) (Download, error) {
	if domain.IsRemoteLocation(location) {
		if s.remote == nil {
			return Download{RedirectURL: location}, nil
		}
		url, err := s.remote.PresignURL(ctx, location, s.presignExpiry)
		if err != nil {
			return Download{}, err
		}
		return Download{RedirectURL: url}, nil
	}
	path, err := s.local.Resolve(location)
	if err != nil {
		return Download{}, err
	}
	return Download{Path: path}, nil
}

// ContentTypeFor guesses a MIME type from an extension.
func ContentTypeFor(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ResourceTypeFor maps an extension to the media category used by the remote
// store.
func ResourceTypeFor(ext string) domain.ResourceType {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "jpg", "jpeg", "png", "gif", "webp", "bmp", "svg":
		return domain.ResourceImage
	case "mp4", "mov", "avi", "webm", "mkv":
		return domain.ResourceVideo
	default:
		return domain.ResourceRaw
	}
}
