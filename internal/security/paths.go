package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// maxFilenameBytes keeps generated names (plus a collision suffix and extension) under common 255 byte limits
const maxFilenameBytes = 200

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "",
)

// SanitizeInput removes null bytes and control characters except newline and tab
func SanitizeInput(input string) string {
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SanitizeFilename turns a display title into a safe single path element
func SanitizeFilename(name string) string {
	sanitized := filenameReplacer.Replace(name)
	sanitized = strings.Map(func(r rune) rune {
		if r < 32 {
			return -1
		}
		return r
	}, sanitized)

	sanitized = strings.TrimSpace(sanitized)
	sanitized = strings.Trim(sanitized, ".")
	sanitized = strings.TrimSpace(sanitized)

	for len(sanitized) > maxFilenameBytes {
		_, size := utf8.DecodeLastRuneInString(sanitized)
		sanitized = sanitized[:len(sanitized)-size]
	}
	sanitized = strings.TrimSpace(sanitized)

	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// ValidateFilePath joins a relative path onto basePath, rejecting anything
// that would escape it.
func ValidateFilePath(basePath, requestedPath string) (string, error) {
	if requestedPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(requestedPath, "\x00") {
		return "", fmt.Errorf("path contains null byte")
	}
	if filepath.IsAbs(requestedPath) || filepath.VolumeName(requestedPath) != "" {
		return "", fmt.Errorf("absolute paths not allowed")
	}

	cleanBase := filepath.Clean(basePath)
	fullPath := filepath.Join(cleanBase, filepath.Clean(requestedPath))

	relPath, err := filepath.Rel(cleanBase, fullPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected")
	}
	if relPath == "." {
		return "", fmt.Errorf("path refers to the base directory")
	}

	return fullPath, nil
}
