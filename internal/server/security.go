// Package server provides security utilities for HTTP servers.
package server

import (
	"net/http"
	"regexp"
	"strings"
)

// SanitizeUserInput performs general sanitization on user input.
// It trims whitespace and removes control characters.
func SanitizeUserInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove other control characters except newline and tab
	var result strings.Builder
	for _, r := range input {
		if r >= 0x20 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// LimitStringLength truncates a string to a maximum length.
func LimitStringLength(input string, maxLength int) string {
	if len(input) <= maxLength {
		return input
	}
	return input[:maxLength]
}

// ValidateIdentifier validates that a string is a valid identifier.
// Identifiers must:
// - Start with a letter or underscore
// - Contain only letters, numbers, underscores, and hyphens
// - Be between 1 and 64 characters
func ValidateIdentifier(input string) bool {
	if len(input) == 0 || len(input) > 64 {
		return false
	}

	match, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_-]*$`, input)
	return match
}

// ValidateContentType checks if a Content-Type header is in the allowed list.
func ValidateContentType(contentType string, allowed []string) bool {
	// Extract just the media type, ignore parameters
	parts := strings.Split(contentType, ";")
	mediaType := strings.TrimSpace(parts[0])

	for _, allowedType := range allowed {
		if strings.EqualFold(mediaType, allowedType) {
			return true
		}
	}

	return false
}

// AllowedUploadContentTypes returns the list of allowed content types for
// document uploads.
var AllowedUploadContentTypes = []string{
	"application/x-tar",
	"application/x-xz",
	"application/xml",
	"text/xml",
	"application/json",
	"text/plain",
	"application/octet-stream", // Generic binary, sniffed on ingest
}

// MaxRequestBodySize is the default cap for request bodies (32 MiB).
const MaxRequestBodySize = 32 << 20

// LimitRequestBody wraps a handler and caps the readable request body size.
func LimitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		next.ServeHTTP(w, r)
	})
}
