package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const levels = 4

// entryDir returns the directory for content identifier digest-index,
// splitting the digest into four two-hex-char levels plus a remainder
// directory suffixed with the collision index:
//
//	<root>/<h0h1>/<h2h3>/<h4h5>/<h6h7>/<h8…>-<index>
func entryDir(root, digest string, index int) (string, error) {
	if len(digest) < levels*2+1 {
		return "", fmt.Errorf("store: digest %q too short: %w", digest, syscall.EINVAL)
	}
	digest = strings.ToLower(digest)
	parts := make([]string, 0, levels+2)
	parts = append(parts, root)
	for i := 0; i < levels; i++ {
		parts = append(parts, digest[i*2:i*2+2])
	}
	parts = append(parts, fmt.Sprintf("%s-%d", digest[levels*2:], index))
	return filepath.Join(parts...), nil
}

// familyDir returns root joined with the four two-hex-char level
// directories for digest, without the final remainder component.
func familyDir(root, digest string) (string, error) {
	if len(digest) < levels*2 {
		return "", fmt.Errorf("store: digest %q too short: %w", digest, syscall.EINVAL)
	}
	digest = strings.ToLower(digest)
	parts := make([]string, 0, levels+1)
	parts = append(parts, root)
	for i := 0; i < levels; i++ {
		parts = append(parts, digest[i*2:i*2+2])
	}
	return filepath.Join(parts...), nil
}

// dataPath returns the payload path and its extension ("" or ".gz")
// inside dir, by probing which of data/data.gz exists. It returns
// ENOENT if neither does.
func dataPath(dir string) (path, ext string, err error) {
	raw := filepath.Join(dir, "data")
	if _, err := os.Stat(raw); err == nil {
		return raw, "", nil
	}
	gz := filepath.Join(dir, "data.gz")
	if _, err := os.Stat(gz); err == nil {
		return gz, ".gz", nil
	}
	return "", "", fmt.Errorf("store: no payload in %s: %w", dir, syscall.ENOENT)
}

// upgradeMarker returns the path of the one-shot layout-upgrade marker.
func upgradeMarker(root string) string {
	return filepath.Join(root, ".upgraded")
}
