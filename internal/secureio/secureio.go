// Package secureio provides the filesystem and sqlite primitives the
// Browser Supervisor and chromeprofiles use to create per-session
// user-data-dirs, copy a real Chrome profile into one, and tear both down
// again: random-named temp dirs, size-bounded copies, and parameterized
// SQL for cookie-domain filtering instead of string-built queries.
package secureio

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxFileSize bounds any single copied file. Chrome's cookie and
	// preference databases sit far below this; anything bigger is not a
	// file we meant to copy.
	MaxFileSize = 100 * 1024 * 1024
	// MaxTotalSize bounds a whole profile-directory copy.
	MaxTotalSize = 1024 * 1024 * 1024
	// SecureFilePerms restricts copied files to the owning user.
	SecureFilePerms = 0600
	// SecureDirPerms restricts created directories to the owning user.
	SecureDirPerms = 0700
	// TempDirPrefix is the default prefix for temporary directories.
	TempDirPrefix = "cdp-gateway-"
)

// CreateSecureTempDir creates an owner-only temp directory whose name ends
// in 16 random bytes, so concurrent sessions can never collide on a
// predictable path.
func CreateSecureTempDir(prefix string) (string, error) {
	suffix := make([]byte, 16)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating random suffix: %w", err)
	}
	if prefix == "" {
		prefix = TempDirPrefix
	}

	dir := filepath.Join(os.TempDir(), prefix+hex.EncodeToString(suffix))
	if err := os.MkdirAll(dir, SecureDirPerms); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	// MkdirAll's mode is filtered through the umask; re-assert it.
	if err := os.Chmod(dir, SecureDirPerms); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("setting temp dir permissions: %w", err)
	}
	return dir, nil
}

// SecureCopyFile copies a regular file to dst with owner-only permissions,
// refusing files larger than maxSize (MaxFileSize when zero). dst must not
// already exist; a partial copy is removed on error.
func SecureCopyFile(src, dst string, maxSize int64) (retErr error) {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("statting source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source %s is not a regular file", src)
	}
	if info.Size() > maxSize {
		return fmt.Errorf("source %s is %d bytes, limit %d", src, info.Size(), maxSize)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, SecureFilePerms)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer func() {
		out.Close()
		if retErr != nil {
			os.Remove(dst)
		}
	}()

	// Cap the copy itself too: the file may have grown since Stat.
	written, err := io.CopyN(out, in, maxSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("copying: %w", err)
	}
	if written == maxSize {
		var probe [1]byte
		if n, _ := in.Read(probe[:]); n > 0 {
			return fmt.Errorf("source %s grew past the %d byte limit", src, maxSize)
		}
	}
	return out.Chmod(SecureFilePerms)
}

// SecureCopyDir recursively copies a directory tree, carrying the
// per-file and cumulative size limits. Symlinks, sockets, and devices are
// skipped; the whole destination is removed on error.
func SecureCopyDir(src, dst string, maxTotalSize int64) error {
	if maxTotalSize <= 0 {
		maxTotalSize = MaxTotalSize
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("statting source dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}
	if err := os.MkdirAll(dst, SecureDirPerms); err != nil {
		return fmt.Errorf("creating destination dir: %w", err)
	}

	var total int64
	err = filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, SecureDirPerms)
		case info.Mode().IsRegular():
			total += info.Size()
			if total > maxTotalSize {
				return fmt.Errorf("copy exceeds %d byte total limit at %s", maxTotalSize, path)
			}
			return SecureCopyFile(path, target, MaxFileSize)
		default:
			return nil
		}
	})
	if err != nil {
		os.RemoveAll(dst)
		return err
	}
	return nil
}

// SecureRemoveAll removes a path and verifies it is actually gone, so a
// teardown that silently fails (mount point, permission oddity) surfaces
// instead of leaking a profile directory.
func SecureRemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s still exists after removal", path)
	}
	return nil
}

// SecureSQLExec runs a statement through a prepared statement, keeping
// every caller-supplied value out of the SQL text.
func SecureSQLExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()
	res, err := stmt.Exec(args...)
	if err != nil {
		return nil, fmt.Errorf("executing statement: %w", err)
	}
	return res, nil
}

// BuildDomainFilterQuery builds the parameterized DELETE that strips every
// cookie whose host matches none of the kept domains.
func BuildDomainFilterQuery(domains []string) (string, []interface{}) {
	if len(domains) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(domains))
	args := make([]interface{}, len(domains))
	for i, domain := range domains {
		placeholders[i] = "host_key LIKE ?"
		args[i] = "%" + domain + "%"
	}
	return "DELETE FROM cookies WHERE NOT (" + strings.Join(placeholders, " OR ") + ")", args
}
