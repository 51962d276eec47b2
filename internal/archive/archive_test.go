package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/AbhishekMashetty/axon/pkg/config"
)

type fakeObjectStore struct {
	exists   bool
	made     []string
	puts     map[string][]byte
	putOpts  minio.PutObjectOptions
	putErr   error
	existErr error
}

func (f *fakeObjectStore) BucketExists(context.Context, string) (bool, error) {
	return f.exists, f.existErr
}

func (f *fakeObjectStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeObjectStore) PutObject(_ context.Context, _ string, object string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[object] = data
	f.putOpts = opts
	return minio.UploadInfo{Key: object, Size: int64(len(data))}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestObjectKey(t *testing.T) {
	cases := map[string]string{
		"release.yaml":            "batches/b1/release.yaml",
		"../../etc/passwd":        "batches/b1/passwd",
		`C:\uploads\release.yaml`: "batches/b1/release.yaml",
		"":                        "batches/b1/manifest.yaml",
	}
	for in, want := range cases {
		if got := ObjectKey("b1", in); got != want {
			t.Fatalf("ObjectKey(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestSaveUploadsManifest(t *testing.T) {
	fake := &fakeObjectStore{}
	store := newStore(fake, "manifests", "us-east-1", testLogger())

	key, err := store.Save(context.Background(), "b1", "release.yaml", []byte("version: v1.0\n"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if key != "batches/b1/release.yaml" {
		t.Fatalf("unexpected key %q", key)
	}
	if string(fake.puts[key]) != "version: v1.0\n" {
		t.Fatalf("unexpected content %q", fake.puts[key])
	}
	if fake.putOpts.UserMetadata["batch-id"] != "b1" {
		t.Fatalf("expected batch id metadata, got %v", fake.putOpts.UserMetadata)
	}

	fake.putErr = errors.New("access denied")
	if _, err := store.Save(context.Background(), "b1", "release.yaml", nil); err == nil {
		t.Fatal("expected put error")
	}
}

func TestEnsureBucket(t *testing.T) {
	fake := &fakeObjectStore{}
	store := newStore(fake, "manifests", "us-east-1", testLogger())
	if err := store.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(fake.made) != 1 || fake.made[0] != "manifests" {
		t.Fatalf("expected bucket creation, got %v", fake.made)
	}

	fake.exists = true
	fake.made = nil
	if err := store.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("ensure existing: %v", err)
	}
	if len(fake.made) != 0 {
		t.Fatalf("expected no creation, got %v", fake.made)
	}
}

func TestValidate(t *testing.T) {
	valid := config.ArchiveConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "manifests"}
	if err := Validate(valid); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := Validate(invalid); err == nil {
		t.Fatal("expected error for scheme in endpoint")
	}
	invalid = valid
	invalid.Bucket = ""
	if err := Validate(invalid); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
