package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// StreamIDRegex validates stream ID format
	StreamIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// streamSchemes lists URL schemes a monitored stream source may use
	streamSchemes = map[string]bool{
		"http":  true,
		"https": true,
		"ws":    true,
		"wss":   true,
		"rtmp":  true,
		"rtmps": true,
		"rtsp":  true,
		"srt":   true,
	}
)

// ValidateStreamID validates stream ID
func ValidateStreamID(streamID string) error {
	if streamID == "" {
		return fmt.Errorf("stream ID is required")
	}
	if len(streamID) > 100 {
		return fmt.Errorf("stream ID is too long (max 100 characters)")
	}
	if !StreamIDRegex.MatchString(streamID) {
		return fmt.Errorf("invalid stream ID format")
	}
	return nil
}

// ValidateStreamURL validates a stream source URL. An empty URL is allowed:
// not every monitored stream has a pullable source.
func ValidateStreamURL(urlStr string) error {
	if urlStr == "" {
		return nil
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if !streamSchemes[u.Scheme] {
		return fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateMetricName validates a history metric name
func ValidateMetricName(metric string) error {
	if metric == "" {
		return fmt.Errorf("metric name is required")
	}
	if !regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`).MatchString(metric) {
		return fmt.Errorf("invalid metric name format")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
