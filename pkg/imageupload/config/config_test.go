package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	repomemory "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/repo/memory"
	fsstorage "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/storage/fs"
	memorystorage "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/storage/memory"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, ByteSize(11_000_000), cfg.Upload.MaxFileSize)
	assert.Equal(t, imageupload.DefaultTransformSpec, cfg.Upload.Eager)
	assert.Equal(t, 2*time.Minute, cfg.Upload.TransferTimeout)
	assert.Equal(t, "sha1", cfg.Upload.Algorithm)
	assert.Equal(t, "https://api.cloudinary.com", cfg.Cloudinary.BaseURL)
	assert.Empty(t, cfg.Cloudinary.APISecret)
}

func TestWithEnv(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("CLOUDINARY_CLOUD_NAME", "demo")
	t.Setenv("CLOUDINARY_API_KEY", "key")
	t.Setenv("CLOUDINARY_API_SECRET", "secret")
	t.Setenv("UPLOAD_MAX_FILE_SIZE", "5MB")
	t.Setenv("UPLOAD_RESOURCE_ID_POLICY", "fixed")
	t.Setenv("UPLOAD_TRANSFER_TIMEOUT", "30s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("STORAGE_URL", "file:///tmp/media")

	cfg, err := Load(WithEnv())
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, "demo", cfg.Cloudinary.CloudName)
	assert.Equal(t, "secret", cfg.Cloudinary.APISecret)
	assert.Equal(t, ByteSize(5_000_000), cfg.Upload.MaxFileSize)
	assert.Equal(t, 30*time.Second, cfg.Upload.TransferTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "file:///tmp/media", cfg.MediaHost.StorageURL)

	// unset variables keep their defaults
	assert.Equal(t, 15*time.Second, cfg.Upload.SignatureTimeout)
	assert.Equal(t, imageupload.DefaultTransformSpec, cfg.Upload.Eager)

	assert.Equal(t, "sample_image", cfg.ResourceIDPolicy().ResourceID(imageupload.File{Name: "x.png"}, time.Now()))
	assert.Equal(t, int64(5_000_000), cfg.Validator().MaxSize)
}

func TestWithEnv_InvalidSize(t *testing.T) {
	t.Setenv("UPLOAD_MAX_FILE_SIZE", "lots")
	_, err := Load(WithEnv())
	assert.Error(t, err)
}

func TestWithEnv_OverridesOptionsOnlyWhenSet(t *testing.T) {
	cfg, err := Load(WithPort("5000"), WithEnv())
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.Port)
}

func TestWithDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("CLOUDINARY_CLOUD_NAME=fromfile\n"), 0o600))
	t.Setenv("CLOUDINARY_CLOUD_NAME", "")
	os.Unsetenv("CLOUDINARY_CLOUD_NAME")

	cfg, err := Load(WithDotEnv(filepath.Join(dir, "missing.env"), file), WithEnv())
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.Cloudinary.CloudName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"bad environment", func(c *Config) error { c.Environment = "staging"; return nil }},
		{"bad algorithm", func(c *Config) error { c.Upload.Algorithm = "md5"; return nil }},
		{"bad policy", WithResourceIDPolicy("random")},
		{"zero size", WithMaxFileSize(0)},
		{"zero timeout", WithTimeouts(0, time.Minute)},
		{"bad database", WithDatabaseURL("mysql://x", "")},
		{"bad storage", func(c *Config) error { c.MediaHost.StorageURL = "ftp://x"; return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestParseStorageURL(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "ak")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "sk")

	spec, err := parseStorageURL("memory://")
	require.NoError(t, err)
	assert.Equal(t, "memory", spec.kind)

	spec, err = parseStorageURL("file:///var/lib/media")
	require.NoError(t, err)
	assert.Equal(t, "fs", spec.kind)
	assert.Equal(t, "/var/lib/media", spec.fs.BaseDir)

	spec, err = parseStorageURL("s3://media?region=eu-west-1&endpoint=http://localhost:9000&path_style=true&prefix=img")
	require.NoError(t, err)
	assert.Equal(t, "s3", spec.kind)
	assert.Equal(t, "media", spec.s3.Bucket)
	assert.Equal(t, "eu-west-1", spec.s3.Region)
	assert.Equal(t, "http://localhost:9000", spec.s3.Endpoint)
	assert.True(t, spec.s3.UsePathStyle)
	assert.Equal(t, "img", spec.s3.Prefix)
	assert.Equal(t, "ak", spec.s3.AccessKeyID)

	_, err = parseStorageURL("s3://")
	assert.Error(t, err)
	_, err = parseStorageURL("s3://b?path_style=maybe")
	assert.Error(t, err)
}

func TestBuilders(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(
		WithCloudinary("demo", "key", "secret"),
		WithHostingBaseURL("http://localhost:9090"),
		WithStorageURL("file://"+dir),
	)
	require.NoError(t, err)

	store, err := cfg.BuildBlobStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &fsstorage.Backend{}, store)

	repo, closeRepo, err := cfg.BuildRepository(context.Background())
	require.NoError(t, err)
	defer closeRepo()
	assert.IsType(t, &repomemory.Repository{}, repo)

	client, err := cfg.HostClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090/v1_1/demo/image/upload", client.UploadURL())

	assert.True(t, cfg.Signer().IsEnabled())
	assert.Len(t, cfg.UploaderOptions(), 5)

	host := cfg.MediaHostServerConfig()
	assert.Equal(t, "http://localhost:9090", host.PublicURL)
	assert.Equal(t, int64(11_000_000), host.MaxFileSize)

	cfg.MediaHost.StorageURL = "memory://"
	store, err = cfg.BuildBlobStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &memorystorage.Backend{}, store)
}

func TestHostClient_RequiresCloudName(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	_, err = cfg.HostClient(nil)
	assert.ErrorIs(t, err, imageupload.ErrConfiguration)
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.SetValue("11MB"))
	assert.Equal(t, ByteSize(11_000_000), b)
	require.NoError(t, b.SetValue("1024"))
	assert.Equal(t, ByteSize(1024), b)
	assert.Equal(t, "1.024kB", b.String())
}

func TestDescribe(t *testing.T) {
	text, err := Describe()
	require.NoError(t, err)
	assert.Contains(t, text, "CLOUDINARY_API_SECRET")
	assert.Contains(t, text, "STORAGE_URL")
}
