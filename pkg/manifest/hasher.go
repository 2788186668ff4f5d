package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// HashBytes returns the content fingerprint (hex SHA-1) of data.
func HashBytes(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// HashFile fingerprints the file at path. An unreadable file yields "",
// which callers treat as "no signal" for this pass.
func HashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return HashBytes(data)
}

// NormalizePath converts a relative path into the manifest key form.
func NormalizePath(path string) string {
	p := filepath.ToSlash(filepath.Clean(path))
	return strings.TrimPrefix(p, "./")
}
