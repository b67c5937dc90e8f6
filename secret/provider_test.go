package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("STEADY_TEST_TOKEN", "tok")
	p := NewEnvProvider()

	got, err := p.Resolve(context.Background(), "STEADY_TEST_TOKEN")
	if err != nil || got != "tok" {
		t.Errorf("Resolve() = %q, %v; want tok, nil", got, err)
	}

	if _, err := p.Resolve(context.Background(), "STEADY_TEST_TOKEN_UNSET"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(unset) error = %v, want ErrNotFound", err)
	}
}

func writeSecret(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "remote/token", "abc123\n")
	p := NewFileProvider(dir, 0)
	ctx := context.Background()

	got, err := p.Resolve(ctx, "remote/token")
	if err != nil || got != "abc123" {
		t.Errorf("Resolve() = %q, %v; want abc123, nil", got, err)
	}

	if _, err := p.Resolve(ctx, "remote/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := p.Resolve(ctx, "../etc/passwd"); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("Resolve(escape) error = %v, want ErrInvalidRef", err)
	}
	if _, err := p.Resolve(ctx, "/etc/passwd"); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("Resolve(absolute) error = %v, want ErrInvalidRef", err)
	}
}

func TestFileProvider_Memoizes(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "token", "v1")
	p := NewFileProvider(dir, time.Hour)
	defer p.Close()
	ctx := context.Background()

	if got, _ := p.Resolve(ctx, "token"); got != "v1" {
		t.Fatalf("first Resolve() = %q, want v1", got)
	}
	writeSecret(t, dir, "token", "v2")
	if got, _ := p.Resolve(ctx, "token"); got != "v1" {
		t.Errorf("memoized Resolve() = %q, want v1", got)
	}
}

func TestDefaultRegistry(t *testing.T) {
	if got := DefaultRegistry.List(); !reflect.DeepEqual(got, []string{"env", "file"}) {
		t.Errorf("List() = %v, want [env file]", got)
	}

	p, err := DefaultRegistry.Create("file", map[string]any{"dir": t.TempDir(), "ttl": "1m"})
	if err != nil {
		t.Fatalf("Create(file) error = %v", err)
	}
	if p.Name() != "file" {
		t.Errorf("Name() = %q, want file", p.Name())
	}
	_ = p.Close()

	if _, err := DefaultRegistry.Create("file", map[string]any{"ttl": "soon"}); err == nil {
		t.Error("Create(file) with bad ttl should fail")
	}
	if _, err := DefaultRegistry.Create("vault", nil); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("Create(vault) error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	factory := func(map[string]any) (Provider, error) { return NewEnvProvider(), nil }

	if err := r.Register("env", factory); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("env", factory); !errors.Is(err, ErrDuplicateProvider) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateProvider", err)
	}
	if err := r.Register(" ", factory); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("blank Register() error = %v, want ErrInvalidRef", err)
	}
}

func TestNewDefaultResolver(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "token", "from-file")
	t.Setenv("STEADY_TEST_USER", "bot")

	r, err := NewDefaultResolver(dir)
	if err != nil {
		t.Fatalf("NewDefaultResolver() error = %v", err)
	}
	defer r.Close()

	got, err := r.ResolveValue(context.Background(), "user=secretref:env:STEADY_TEST_USER token=secretref:file:token")
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if got != "user=bot token=from-file" {
		t.Errorf("ResolveValue() = %q, want user=bot token=from-file", got)
	}
}
