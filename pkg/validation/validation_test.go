package validation

import (
	"strings"
	"testing"
)

func TestValidateStreamKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "abc123-XYZ_9", false},
		{"dots and tilde", "live.key~1", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"slash", "live/key", true},
		{"space", "my key", true},
		{"too long", strings.Repeat("k", 257), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStreamKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateIngestURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"rtmp", "rtmp://broadcast.example.com/s", false},
		{"rtmps with port", "rtmps://ingest.example.com:443/app", false},
		{"empty", "", true},
		{"http scheme", "http://example.com/live", true},
		{"no host", "rtmp:///live", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIngestURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIngestURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateResolution(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantErr       bool
	}{
		{"1080p", 1920, 1080, false},
		{"constrained preview", 1280, 960, false},
		{"zero", 0, 720, true},
		{"odd", 1279, 720, true},
		{"huge", 8192, 4320, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResolution(tt.width, tt.height)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateResolution() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAudioFields(t *testing.T) {
	if err := ValidateSampleRate(44100); err != nil {
		t.Errorf("44100 should be valid: %v", err)
	}
	if err := ValidateSampleRate(12345); err == nil {
		t.Error("12345 should be rejected")
	}
	if err := ValidateChannelCount(2); err != nil {
		t.Errorf("stereo should be valid: %v", err)
	}
	if err := ValidateChannelCount(6); err == nil {
		t.Error("6 channels should be rejected")
	}
	if err := ValidateBitrate(64_000, 16_000, 320_000); err != nil {
		t.Errorf("64k should be valid: %v", err)
	}
	if err := ValidateBitrate(1_000, 16_000, 320_000); err == nil {
		t.Error("1k should be rejected")
	}
}

func TestValidateVideoTiming(t *testing.T) {
	if err := ValidateFPS(30); err != nil {
		t.Errorf("30fps should be valid: %v", err)
	}
	if err := ValidateFPS(0); err == nil {
		t.Error("0fps should be rejected")
	}
	if err := ValidateKeyframeInterval(4); err != nil {
		t.Errorf("4s should be valid: %v", err)
	}
	if err := ValidateKeyframeInterval(-1); err == nil {
		t.Error("negative interval should be rejected")
	}
}

func TestValidateCameraPosition(t *testing.T) {
	for _, ok := range []string{"front", "back"} {
		if err := ValidateCameraPosition(ok); err != nil {
			t.Errorf("%q should be valid: %v", ok, err)
		}
	}
	if err := ValidateCameraPosition("side"); err == nil {
		t.Error("side should be rejected")
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("héllo", 1, 5, "name"); err != nil {
		t.Errorf("rune length 5 should be valid: %v", err)
	}
	if err := ValidateStringLength("", 1, 5, "name"); err == nil {
		t.Error("empty should be rejected")
	}
}
