// Package delivery turns a stored media file into the response that hands it
// to the client: an internal redirect for the reverse proxy, a direct file
// attachment, or a presigned object storage URL.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/config"
)

var (
	// ErrFileMissing is returned when there is no file to deliver.
	ErrFileMissing = errors.New("delivery: file not available")
	// ErrOutsideRoot is returned for local paths escaping MEDIA_ROOT.
	ErrOutsideRoot = errors.New("delivery: path outside media root")
)

type Kind int

const (
	KindAccel Kind = iota + 1
	KindFile
	KindRedirect
)

// StoredFile designates one file of a media item.
type StoredFile struct {
	Backend  string
	Path     string
	Filename string
}

// Target is the resolved way to deliver a StoredFile.
type Target struct {
	Kind        Kind
	AccelPath   string
	FilePath    string
	RedirectURL string
	Filename    string
}

// ContentDisposition returns the attachment header value for the target.
func (t *Target) ContentDisposition() string {
	return fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(t.Filename, `"`, ""))
}

// Presigner issues time limited download URLs for object storage keys.
type Presigner interface {
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

type Resolver struct {
	cfg       config.DeliveryConfig
	presigner Presigner
}

// NewResolver builds a resolver. presigner may be nil when object storage
// delivery is disabled.
func NewResolver(cfg config.DeliveryConfig, presigner Presigner) *Resolver {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	return &Resolver{cfg: cfg, presigner: presigner}
}

// Resolve decides how f is delivered. Local files are checked for existence
// only when they are served by this process.
func (r *Resolver) Resolve(ctx context.Context, f StoredFile) (*Target, error) {
	p := strings.TrimSpace(f.Path)
	if p == "" {
		return nil, ErrFileMissing
	}

	if f.Backend == models.StorageBackendS3 {
		if r.presigner == nil {
			return nil, fmt.Errorf("%w: object storage delivery disabled", ErrFileMissing)
		}
		u, err := r.presigner.PresignGet(ctx, strings.TrimLeft(p, "/"), f.Filename, r.cfg.PresignTTL)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", p, err)
		}
		return &Target{Kind: KindRedirect, RedirectURL: u, Filename: f.Filename}, nil
	}

	rel, abs, err := r.localPath(p)
	if err != nil {
		return nil, err
	}

	if prefix := strings.TrimSpace(r.cfg.XAccelPrefix); prefix != "" {
		return &Target{
			Kind:      KindAccel,
			AccelPath: strings.TrimRight(prefix, "/") + "/" + rel,
			Filename:  f.Filename,
		}, nil
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return nil, ErrFileMissing
	}
	return &Target{Kind: KindFile, FilePath: abs, Filename: f.Filename}, nil
}

// localPath returns the slash separated path relative to MEDIA_ROOT and the
// absolute filesystem path for p.
func (r *Resolver) localPath(p string) (string, string, error) {
	root, err := filepath.Abs(r.cfg.MediaRoot)
	if err != nil {
		return "", "", fmt.Errorf("media root: %w", err)
	}

	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(root, filepath.FromSlash(p))
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", ErrOutsideRoot
	}
	return path.Clean(filepath.ToSlash(rel)), abs, nil
}
