package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDevDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PROJECT_ROOT", "")

	cfg, err := LoadDev(nil)
	require.NoError(t, err)
	require.Equal(t, ".", cfg.RootDir)
	require.Equal(t, ":3456", cfg.Port)
	require.True(t, cfg.Sourcemaps)
	require.False(t, cfg.DirectoryListing)
	require.Empty(t, cfg.WatchIgnore)
}

func TestLoadDevEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("PROJECT_ROOT", "/srv/site")

	cfg, err := LoadDev(nil)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Port)
	require.Equal(t, "/srv/site", cfg.RootDir)

	// an explicit flag beats the environment root
	cfg, err = LoadDev([]string{"-root", "./here"})
	require.NoError(t, err)
	require.Equal(t, "./here", cfg.RootDir)
}

func TestLoadDevWatchIgnoreList(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := LoadDev([]string{"-watch-ignore", "tmp/**, *.log ,"})
	require.NoError(t, err)
	require.Equal(t, []string{"tmp/**", "*.log"}, cfg.WatchIgnore)
}

func TestLoadBuildEntriesAndFlags(t *testing.T) {
	cfg, err := LoadBuild([]string{"-out", "./build", "-versioning-method", "filename", "./main.html", "./admin.html"})
	require.NoError(t, err)
	require.Equal(t, "./build", cfg.OutDir)
	require.Equal(t, "filename", cfg.VersioningMethod)
	require.Equal(t, []string{"./main.html", "./admin.html"}, cfg.EntryPoints)

	cfg, err = LoadBuild(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"./index.html"}, cfg.EntryPoints)
	require.True(t, cfg.Versioning)
	require.Equal(t, "search_param", cfg.VersioningMethod)
	require.True(t, cfg.AssetManifest)
	require.False(t, cfg.Publish.Enabled)
}

func TestLoadBuildPublishEnv(t *testing.T) {
	t.Setenv("PUBLISH_S3_ENDPOINT", "minio.internal:9000")
	t.Setenv("PUBLISH_S3_ACCESS_KEY", "builder")
	t.Setenv("PUBLISH_S3_SECRET_KEY", "secret")
	t.Setenv("PUBLISH_S3_BUCKET", "releases")
	t.Setenv("PUBLISH_S3_USE_SSL", "false")

	cfg, err := LoadBuild([]string{"-publish"})
	require.NoError(t, err)
	p := cfg.Publish
	require.True(t, p.Enabled)
	require.Equal(t, "minio.internal:9000", p.Endpoint)
	require.Equal(t, "releases", p.Bucket)
	require.Equal(t, "builder", p.AccessKey)
	require.Equal(t, "secret", p.SecretKey)
	require.False(t, p.UseSSL)
	require.Equal(t, "us-east-1", p.Region)
}
