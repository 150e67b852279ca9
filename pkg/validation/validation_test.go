package validation

import (
	"strings"
	"testing"
)

func TestValidateStreamID(t *testing.T) {
	tests := []struct {
		name     string
		streamID string
		wantErr  bool
	}{
		{"valid id", "stream-1", false},
		{"valid with underscore", "cam_front_door", false},
		{"valid alphanumeric", "Stream42", false},
		{"empty", "", true},
		{"spaces", "stream 1", true},
		{"slash", "stream/1", true},
		{"unicode", "странный", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamID(tt.streamID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStreamID(%q) error = %v, wantErr %v", tt.streamID, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStreamURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty is allowed", "", false},
		{"rtmp", "rtmp://ingest.example.com/live/key", false},
		{"rtsp", "rtsp://10.0.0.5:554/cam1", false},
		{"srt", "srt://relay.example.com:9000", false},
		{"https", "https://cdn.example.com/hls/master.m3u8", false},
		{"wss", "wss://edge.example.com/stream", false},
		{"bad scheme", "ftp://example.com/file", true},
		{"no host", "rtmp://", true},
		{"garbage", "://not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStreamURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMetricName(t *testing.T) {
	tests := []struct {
		name    string
		metric  string
		wantErr bool
	}{
		{"bitrate", "bitrate", false},
		{"camel case", "frameDrops", false},
		{"with underscore", "frame_drops", false},
		{"empty", "", true},
		{"leading digit", "1fps", true},
		{"dash", "frame-drops", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetricName(tt.metric)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMetricName(%q) error = %v, wantErr %v", tt.metric, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNonEmptyString(t *testing.T) {
	if err := ValidateNonEmptyString("  ", "message"); err == nil {
		t.Error("expected error for blank string")
	}
	if err := ValidateNonEmptyString("decoder stall", "message"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
