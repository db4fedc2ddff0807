package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits for owner-supplied fields.
const (
	MaxDestinationLength = 2048
	MaxTitleLength       = 200
	MaxColorLength       = 32
	DerivedTitleLength   = 32
)

// SchemePattern matches a destination that already names its scheme.
var SchemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

var ErrEmptyDestination = errors.New("destination is required")

// ValidateURL checks if a URL is valid and uses an allowed scheme (http/https only).
// This prevents javascript:, data:, vbscript:, and other dangerous URL schemes.
func ValidateURL(urlStr string) (bool, string) {
	if urlStr == "" {
		return false, "URL is required"
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false, "Invalid URL format"
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false, "URL must use http:// or https:// scheme"
	}

	if u.Host == "" {
		return false, "URL must have a valid host"
	}

	return true, ""
}

// NormalizeDestination trims raw, prefixes https:// when no scheme is present
// and validates the result.
func NormalizeDestination(raw string) (string, error) {
	dest := strings.TrimSpace(raw)
	if dest == "" {
		return "", ErrEmptyDestination
	}
	if utf8.RuneCountInString(dest) > MaxDestinationLength {
		return "", errors.New("destination is too long")
	}

	if !SchemePattern.MatchString(dest) {
		dest = "https://" + dest
	}

	if valid, msg := ValidateURL(dest); !valid {
		return "", errors.New(msg)
	}
	return dest, nil
}

// DeriveTitle returns the destination's host, or a truncated prefix of the
// destination when no host can be parsed.
func DeriveTitle(destination string) string {
	if u, err := url.Parse(destination); err == nil {
		if host := u.Hostname(); host != "" {
			return host
		}
	}
	return truncate(destination, DerivedTitleLength)
}

// ValidateTitle checks an owner-supplied title.
func ValidateTitle(title string) (bool, string) {
	if strings.TrimSpace(title) == "" {
		return false, "title must not be blank"
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return false, "title is too long"
	}
	return true, ""
}

// ValidateColor checks a color value. Colors are opaque to the engine apart
// from being present and short.
func ValidateColor(color string) (bool, string) {
	trimmed := strings.TrimSpace(color)
	if trimmed == "" {
		return false, "color must not be blank"
	}
	if len(trimmed) > MaxColorLength {
		return false, "color is too long"
	}
	return true, ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
