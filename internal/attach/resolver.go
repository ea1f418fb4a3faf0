// Package attach resolves attachment descriptors to displayable resources
// and owns the lifetime of local placeholders created for optimistic sends.
package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/model"
)

// PlaceholderScheme prefixes handles returned by CreatePlaceholder.
const PlaceholderScheme = "local:"

var ErrReleased = errors.New("placeholder released")

type placeholder struct {
	filename    string
	contentType string
	data        []byte
}

// Resolver holds placeholder content until its owner releases it, and
// downloads attachments into a target directory.
type Resolver struct {
	mu           sync.Mutex
	placeholders map[string]*placeholder

	dir    string
	hc     *http.Client
	opener Opener
	log    *zap.Logger
}

func NewResolver(downloadDir string, hc *http.Client, opener Opener, log *zap.Logger) *Resolver {
	if hc == nil {
		hc = http.DefaultClient
	}
	if opener == nil {
		opener = SystemOpener{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		placeholders: make(map[string]*placeholder),
		dir:          downloadDir,
		hc:           hc,
		opener:       opener,
		log:          log,
	}
}

// CreatePlaceholder keeps data in memory and returns a handle usable as a
// display URL until Release is called.
func (r *Resolver) CreatePlaceholder(filename, contentType string, data []byte) string {
	handle := PlaceholderScheme + uuid.NewString()
	r.mu.Lock()
	r.placeholders[handle] = &placeholder{filename: filename, contentType: contentType, data: data}
	r.mu.Unlock()
	return handle
}

// Placeholder returns the content behind a live handle.
func (r *Resolver) Placeholder(handle string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.placeholders[handle]
	if !ok {
		return nil, ErrReleased
	}
	return p.data, nil
}

// Release frees a placeholder. It reports whether this call did the freeing,
// so a handle is only ever released once.
func (r *Resolver) Release(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.placeholders[handle]; !ok {
		return false
	}
	delete(r.placeholders, handle)
	return true
}

// ReleaseMessage frees every placeholder held by m's attachments and returns
// how many were freed by this call.
func (r *Resolver) ReleaseMessage(m model.Message) int {
	n := 0
	for _, a := range m.Attachments {
		if a.Placeholder != "" && r.Release(a.Placeholder) {
			n++
		}
	}
	return n
}

// Live returns the number of unreleased placeholders.
func (r *Resolver) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.placeholders)
}

// ReleaseAll frees everything. Used at shutdown.
func (r *Resolver) ReleaseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.placeholders)
	r.placeholders = make(map[string]*placeholder)
	return n
}

// DisplayURL prefers the durable URL and falls back to the placeholder.
func DisplayURL(a model.Attachment) string {
	if a.URL != "" {
		return a.URL
	}
	return a.Placeholder
}

// Download saves the resource under a sanitized filename in the download
// directory and returns the written path. When the fetch fails the resource
// is handed to the Opener instead and the fetch error is returned wrapped
// only if opening fails too.
func (r *Resolver) Download(ctx context.Context, url, filename string) (string, error) {
	data, err := r.fetch(ctx, url)
	if err != nil {
		r.log.Warn("attachment fetch failed, opening directly", zap.String("url", url), zap.Error(err))
		if strings.HasPrefix(url, PlaceholderScheme) {
			return "", err
		}
		if oerr := r.opener.Open(url); oerr != nil {
			return "", fmt.Errorf("download %s: %w (open: %v)", url, err, oerr)
		}
		return "", nil
	}

	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	path := uniquePath(filepath.Join(r.dir, SanitizeFilename(filename)))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	r.log.Info("attachment downloaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, PlaceholderScheme) {
		return r.Placeholder(url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
