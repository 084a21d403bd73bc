package util

import (
	"crypto/rand"
	"encoding/hex"
	"path"
	"strings"
)

// NewID returns a random 128-bit hex identifier, optionally prefixed.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}

// ObjectKey joins slug-safe segments into a blob storage key.
func ObjectKey(segments ...string) string {
	cleaned := make([]string, 0, len(segments))
	for _, segment := range segments {
		for _, part := range strings.Split(strings.ReplaceAll(segment, "\\", "/"), "/") {
			part = strings.TrimSpace(part)
			if part == "" || part == "." || part == ".." {
				continue
			}
			cleaned = append(cleaned, part)
		}
	}
	return path.Clean(strings.Join(cleaned, "/"))
}
