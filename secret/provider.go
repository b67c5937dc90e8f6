package secret

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonwraymond/steadycore/cache"
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves a reference as an environment variable name.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates the "env" provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) Name() string { return "env" }
func (p *EnvProvider) Close() error { return nil }

// Resolve returns the variable's value, or ErrNotFound when it is unset.
func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := p.lookup(ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, ref)
	}
	return v, nil
}

// FileProvider resolves a reference as a file path relative to Dir and
// returns the content with surrounding whitespace trimmed.
//
// With a positive TTL, contents are memoized so rotated files are picked up
// once the entry expires.
type FileProvider struct {
	dir   string
	cache *cache.MemoryCache[string]
	ttl   time.Duration
}

// NewFileProvider creates the "file" provider rooted at dir.
func NewFileProvider(dir string, ttl time.Duration) *FileProvider {
	p := &FileProvider{dir: dir, ttl: ttl}
	if ttl > 0 {
		p.cache = cache.NewMemoryCache[string](cache.Policy{
			DefaultTTL: ttl,
			MaxTTL:     ttl,
			MaxSize:    64,
		}, cache.WithName("secret-files"))
	}
	return p
}

func (p *FileProvider) Name() string { return "file" }

// Close drops memoized contents.
func (p *FileProvider) Close() error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Close()
}

// Resolve reads dir/ref. References that escape dir are rejected.
func (p *FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if !filepath.IsLocal(ref) {
		return "", fmt.Errorf("%w: file %q is not below the secrets directory", ErrInvalidRef, ref)
	}
	if p.cache == nil {
		return p.read(ref)
	}
	return p.cache.GetOrSet(ctx, ref, func(context.Context) (string, error) {
		return p.read(ref)
	}, p.ttl)
}

func (p *FileProvider) read(ref string) (string, error) {
	b, err := os.ReadFile(filepath.Join(p.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", fmt.Errorf("secret: read file %s: %w", ref, err)
	}
	return strings.TrimSpace(string(b)), nil
}
