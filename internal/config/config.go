// Package config loads command configuration from flags with environment
// fallbacks. A .env file in the working directory is honored when present.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Dev is the dev server configuration.
type Dev struct {
	RootDir          string
	Port             string
	Sourcemaps       bool
	DirectoryListing bool
	WatchIgnore      []string
}

// LoadDev parses dev server flags and environment.
func LoadDev(args []string) (*Dev, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("dev", flag.ContinueOnError)
	root := fs.String("root", ".", "project root directory")
	port := fs.String("port", ":3456", "listen address")
	sourcemaps := fs.Bool("sourcemaps", true, "compose and serve sourcemaps")
	dirListing := fs.Bool("directory-listing", false, "serve directory references as listings")
	ignore := fs.String("watch-ignore", "", "comma-separated glob patterns excluded from watching")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}
	if envRoot := strings.TrimSpace(os.Getenv("PROJECT_ROOT")); envRoot != "" && *root == "." {
		*root = envRoot
	}

	return &Dev{
		RootDir:          *root,
		Port:             *port,
		Sourcemaps:       *sourcemaps,
		DirectoryListing: *dirListing,
		WatchIgnore:      splitList(*ignore),
	}, nil
}

// Build is the build command configuration.
type Build struct {
	RootDir          string
	OutDir           string
	EntryPoints      []string
	BaseURL          string
	Versioning       bool
	VersioningMethod string
	Sourcemaps       bool
	AssetManifest    bool
	Publish          PublishConfig
}

// PublishConfig selects the optional S3-compatible upload target.
type PublishConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// LoadBuild parses build flags and environment. Positional arguments are the
// entry point specifiers.
func LoadBuild(args []string) (*Build, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	root := fs.String("root", ".", "project root directory")
	out := fs.String("out", "./dist", "build output directory")
	baseURL := fs.String("base", "/", "public base url of the build")
	versioning := fs.Bool("versioning", true, "version files by content hash")
	method := fs.String("versioning-method", "search_param", "search_param or filename")
	sourcemaps := fs.Bool("sourcemaps", false, "emit sourcemaps next to build files")
	manifest := fs.Bool("asset-manifest", true, "write asset-manifest.json")
	publish := fs.Bool("publish", false, "upload the build to the configured object store")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	entries := fs.Args()
	if len(entries) == 0 {
		entries = []string{"./index.html"}
	}

	return &Build{
		RootDir:          *root,
		OutDir:           *out,
		EntryPoints:      entries,
		BaseURL:          *baseURL,
		Versioning:       *versioning,
		VersioningMethod: *method,
		Sourcemaps:       *sourcemaps,
		AssetManifest:    *manifest,
		Publish:          loadPublishConfig(*publish),
	}, nil
}

func loadPublishConfig(enabled bool) PublishConfig {
	return PublishConfig{
		Enabled:   enabled,
		Endpoint:  strings.TrimSpace(os.Getenv("PUBLISH_S3_ENDPOINT")),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("PUBLISH_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("PUBLISH_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("PUBLISH_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("PUBLISH_S3_BUCKET")), "site-builds"),
		Prefix:    strings.TrimSpace(os.Getenv("PUBLISH_S3_PREFIX")),
		UseSSL:    resolveUseSSL(),
	}
}

func resolveUseSSL() bool {
	raw := strings.TrimSpace(os.Getenv("PUBLISH_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
