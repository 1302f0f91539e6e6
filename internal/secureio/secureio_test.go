package secureio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateSecureTempDirIsOwnerOnlyAndUnique(t *testing.T) {
	a, err := CreateSecureTempDir("secureio-test-")
	if err != nil {
		t.Fatalf("CreateSecureTempDir: %v", err)
	}
	defer os.RemoveAll(a)
	b, err := CreateSecureTempDir("secureio-test-")
	if err != nil {
		t.Fatalf("CreateSecureTempDir: %v", err)
	}
	defer os.RemoveAll(b)

	if a == b {
		t.Fatalf("two temp dirs share a path: %s", a)
	}
	info, err := os.Stat(a)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != SecureDirPerms {
		t.Errorf("temp dir perms = %o, want %o", perm, SecureDirPerms)
	}
}

func TestSecureCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("cookie db bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := SecureCopyFile(src, dst, 0); err != nil {
		t.Fatalf("SecureCopyFile: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "cookie db bytes" {
		t.Fatalf("copied content = %q, %v", data, err)
	}
	info, _ := os.Stat(dst)
	if perm := info.Mode().Perm(); perm != SecureFilePerms {
		t.Errorf("copied file perms = %o, want %o", perm, SecureFilePerms)
	}
}

func TestSecureCopyFileRefusesOversize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte(strings.Repeat("x", 100)), 0644); err != nil {
		t.Fatal(err)
	}
	if err := SecureCopyFile(src, filepath.Join(dir, "dst"), 10); err == nil {
		t.Fatalf("expected an error copying past the size limit")
	}
	if _, err := os.Stat(filepath.Join(dir, "dst")); !os.IsNotExist(err) {
		t.Fatalf("partial copy should have been removed")
	}
}

func TestSecureCopyFileRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("a"), 0644)
	os.WriteFile(dst, []byte("b"), 0644)

	if err := SecureCopyFile(src, dst, 0); err == nil {
		t.Fatalf("expected an error overwriting an existing destination")
	}
}

func TestSecureCopyDirSkipsIrregularFiles(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")
	os.MkdirAll(filepath.Join(src, "Default"), 0755)
	os.WriteFile(filepath.Join(src, "Default", "Preferences"), []byte("{}"), 0644)
	os.Symlink(filepath.Join(src, "Default"), filepath.Join(src, "link"))

	if err := SecureCopyDir(src, dst, 0); err != nil {
		t.Fatalf("SecureCopyDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "Default", "Preferences")); err != nil {
		t.Fatalf("regular file not copied: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(dst, "link")); !os.IsNotExist(err) {
		t.Fatalf("symlink should have been skipped")
	}
}

func TestSecureRemoveAll(t *testing.T) {
	dir := t.TempDir()
	victim := filepath.Join(dir, "profile")
	os.MkdirAll(filepath.Join(victim, "Default"), 0755)
	os.WriteFile(filepath.Join(victim, "Default", "Cookies"), []byte("x"), 0644)

	if err := SecureRemoveAll(victim); err != nil {
		t.Fatalf("SecureRemoveAll: %v", err)
	}
	if _, err := os.Stat(victim); !os.IsNotExist(err) {
		t.Fatalf("path still present after removal")
	}
}

func TestBuildDomainFilterQuery(t *testing.T) {
	query, args := BuildDomainFilterQuery([]string{"example.com", "github.com"})
	if !strings.HasPrefix(query, "DELETE FROM cookies WHERE NOT (") {
		t.Fatalf("unexpected query shape: %q", query)
	}
	if strings.Count(query, "host_key LIKE ?") != 2 {
		t.Fatalf("expected two placeholders, got %q", query)
	}
	if len(args) != 2 || args[0] != "%example.com%" || args[1] != "%github.com%" {
		t.Fatalf("unexpected args: %v", args)
	}

	if query, args := BuildDomainFilterQuery(nil); query != "" || args != nil {
		t.Fatalf("empty domain list should produce no query, got %q %v", query, args)
	}
}
