package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"applyportal/internal/util"
	"applyportal/pkg/domain"
)

type fakeObjectAPI struct {
	objects map[string][]byte
	removed []string
	failPut bool
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{objects: map[string][]byte{}}
}

func (f *fakeObjectAPI) PutObject(_ context.Context, bucket, name string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.failPut {
		return minio.UploadInfo{}, errors.New("put failed")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+name] = data
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: int64(len(data))}, nil
}

func (f *fakeObjectAPI) RemoveObject(_ context.Context, bucket, name string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, name)
	delete(f.objects, bucket+"/"+name)
	return nil
}

func (f *fakeObjectAPI) PresignedGetObject(_ context.Context, bucket, name string, _ time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("https://signed.example.com/" + bucket + "/" + name + "?sig=1")
}

func newTestRemote(api objectAPI) *RemoteObjectStore {
	return newRemoteObjectStore(api, RemoteConfig{
		Endpoint:  "media.example.com",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "portal",
		UseSSL:    true,
	})
}

func TestLocalDiskSaveAndDelete(t *testing.T) {
	local, err := NewLocalDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new local disk: %v", err)
	}
	s := NewWithBackends(local, nil)
	if s.Kind() != KindLocal {
		t.Fatalf("expected local backend, got %s", s.Kind())
	}
	obj, err := s.Save(context.Background(), Upload{
		Filename: "notas.TXT",
		Size:     5,
		Body:     strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if obj.Format != "txt" || obj.ResourceType != domain.ResourceRaw || !strings.HasSuffix(obj.StoredName, ".txt") {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if !strings.HasPrefix(obj.ContentType, "text/plain") {
		t.Fatalf("expected text content type, got %q", obj.ContentType)
	}
	data, err := os.ReadFile(obj.Location)
	if err != nil || string(data) != "hello" {
		t.Fatalf("stored bytes mismatch: %q err=%v", data, err)
	}

	if err := s.Delete(context.Background(), obj.Location); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(obj.Location); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if err := s.Delete(context.Background(), obj.Location); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestLocalDownloadResolvesPath(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocalDisk(dir)
	if err != nil {
		t.Fatalf("new local disk: %v", err)
	}
	s := NewWithBackends(local, nil)
	dl, err := s.Download(context.Background(), "abc.pdf")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	abs, _ := filepath.Abs(dir)
	if dl.RedirectURL != "" || dl.Path != filepath.Join(abs, "abc.pdf") {
		t.Fatalf("unexpected download: %+v", dl)
	}
}

func TestRemoteSaveAndDeleteByURL(t *testing.T) {
	api := newFakeObjectAPI()
	local, err := NewLocalDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new local disk: %v", err)
	}
	s := NewWithBackends(local, newTestRemote(api))
	if s.Kind() != KindRemote {
		t.Fatalf("expected remote backend, got %s", s.Kind())
	}
	obj, err := s.Save(context.Background(), Upload{
		Filename:    "foto.png",
		Size:        3,
		ContentType: "image/png",
		Body:        bytes.NewReader([]byte{1, 2, 3}),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(obj.Location, "https://media.example.com/portal/upload/postulantes/") {
		t.Fatalf("unexpected secure url: %s", obj.Location)
	}
	if obj.ResourceType != domain.ResourceImage || obj.Metadata["public_id"] != obj.PublicID {
		t.Fatalf("unexpected object: %+v", obj)
	}

	if err := s.Delete(context.Background(), obj.Location); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(api.removed) != 1 || api.removed[0] != "upload/"+obj.PublicID {
		t.Fatalf("expected removal of %s, got %v", obj.PublicID, api.removed)
	}

	dl, err := s.Download(context.Background(), obj.Location)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.HasPrefix(dl.RedirectURL, "https://signed.example.com/portal/upload/") {
		t.Fatalf("unexpected presigned url: %s", dl.RedirectURL)
	}
}

func TestRemoteSaveFailureReturnsError(t *testing.T) {
	api := newFakeObjectAPI()
	api.failPut = true
	r := newTestRemote(api)
	if _, err := r.Save(context.Background(), Upload{Filename: "a.pdf", Size: 1, Body: strings.NewReader("x")}); err == nil {
		t.Fatalf("expected put failure")
	}
}

func TestDeleteRemoteWithoutRemoteBackend(t *testing.T) {
	local, err := NewLocalDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new local disk: %v", err)
	}
	s := NewWithBackends(local, nil)
	err = s.Delete(context.Background(), "https://media.example.com/portal/upload/x.pdf")
	if !errors.Is(err, ErrRemoteNotConfigured) {
		t.Fatalf("expected remote not configured, got %v", err)
	}
}

func TestPublicIDFromURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://res.example.com/demo/image/upload/v1712/postulantes/abc.png", "postulantes/abc.png", true},
		{"https://res.example.com/portal/upload/postulantes/abc.pdf", "postulantes/abc.pdf", true},
		{"https://res.example.com/portal/upload/", "", false},
		{"https://res.example.com/portal/files/abc.pdf", "", false},
	}
	for _, tc := range cases {
		got, err := PublicIDFromURL(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("PublicIDFromURL(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("PublicIDFromURL(%q) expected error, got %q", tc.in, got)
		}
	}
}

func TestRemoteConfigConfigured(t *testing.T) {
	if (RemoteConfig{Endpoint: "e", AccessKey: "a"}).Configured() {
		t.Fatalf("missing secret must not count as configured")
	}
	if !(RemoteConfig{Endpoint: "e", AccessKey: "a", SecretKey: "s"}).Configured() {
		t.Fatalf("expected configured")
	}
}

func TestResourceTypeFor(t *testing.T) {
	if ResourceTypeFor("JPG") != domain.ResourceImage {
		t.Fatalf("jpg should be image")
	}
	if ResourceTypeFor("mp4") != domain.ResourceVideo {
		t.Fatalf("mp4 should be video")
	}
	if ResourceTypeFor("docx") != domain.ResourceRaw {
		t.Fatalf("docx should be raw")
	}
}

func TestSaveLogsPDFInspectionWithRequestLogger(t *testing.T) {
	local, err := NewLocalDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new local disk: %v", err)
	}
	s := NewWithBackends(local, nil)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).With("request_id", "req-7")
	ctx := util.ContextWithLogger(context.Background(), logger)

	body := "not a pdf"
	obj, err := s.Save(ctx, Upload{Filename: "cv.pdf", Size: int64(len(body)), Body: strings.NewReader(body)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := obj.Metadata["pages"]; ok {
		t.Fatalf("garbage pdf should not report pages: %+v", obj.Metadata)
	}
	out := buf.String()
	if !strings.Contains(out, "pdf inspection failed") || !strings.Contains(out, `"request_id":"req-7"`) {
		t.Fatalf("expected request-scoped debug line, got %q", out)
	}
}

func TestCountPDFPagesRejectsGarbage(t *testing.T) {
	if _, err := CountPDFPages(strings.NewReader("not a pdf"), 9); err == nil {
		t.Fatalf("expected error for non-pdf input")
	}
	if _, err := CountPDFPages(strings.NewReader(""), 0); err == nil {
		t.Fatalf("expected error for empty input")
	}
}
