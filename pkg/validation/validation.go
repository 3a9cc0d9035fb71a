package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// StreamKeyRegex validates the characters an ingest accepts in a stream key
	StreamKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-.~]+$`)

	// supportedSampleRates lists the AAC sample rates capture engines accept
	supportedSampleRates = map[int]bool{
		8000:  true,
		11025: true,
		16000: true,
		22050: true,
		32000: true,
		44100: true,
		48000: true,
	}
)

// ValidateStreamKey validates a stream key
func ValidateStreamKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("stream key is required")
	}
	if len(key) > 256 {
		return fmt.Errorf("stream key is too long (max 256 characters)")
	}
	if !StreamKeyRegex.MatchString(key) {
		return fmt.Errorf("stream key contains invalid characters")
	}
	return nil
}

// ValidateIngestURL validates an RTMP ingest URL
func ValidateIngestURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("ingest URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "rtmp" && u.Scheme != "rtmps" {
		return fmt.Errorf("invalid URL scheme %q (must be rtmp or rtmps)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateBitrate validates a bitrate in bits per second
func ValidateBitrate(bitrate, min, max int) error {
	if bitrate < min {
		return fmt.Errorf("bitrate must be at least %d bps", min)
	}
	if bitrate > max {
		return fmt.Errorf("bitrate is too high (max %d bps)", max)
	}
	return nil
}

// ValidateSampleRate validates an audio sample rate
func ValidateSampleRate(rate int) error {
	if !supportedSampleRates[rate] {
		return fmt.Errorf("unsupported sample rate %d Hz", rate)
	}
	return nil
}

// ValidateChannelCount validates an audio channel count
func ValidateChannelCount(channels int) error {
	if channels != 1 && channels != 2 {
		return fmt.Errorf("channel count must be 1 or 2, got %d", channels)
	}
	return nil
}

// ValidateResolution validates video dimensions
func ValidateResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", width, height)
	}
	if width > 4096 || height > 4096 {
		return fmt.Errorf("resolution %dx%d is too large (max 4096)", width, height)
	}
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("resolution %dx%d must have even dimensions", width, height)
	}
	return nil
}

// ValidateFPS validates a frame rate
func ValidateFPS(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("fps must be > 0")
	}
	if fps > 120 {
		return fmt.Errorf("fps is too high (max 120)")
	}
	return nil
}

// ValidateKeyframeInterval validates a keyframe interval in seconds
func ValidateKeyframeInterval(seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("keyframe interval must be > 0")
	}
	if seconds > 20 {
		return fmt.Errorf("keyframe interval is too long (max 20s)")
	}
	return nil
}

// ValidateCameraPosition validates a camera facing name
func ValidateCameraPosition(position string) error {
	switch position {
	case "front", "back":
		return nil
	default:
		return fmt.Errorf("unknown camera facing direction %q", position)
	}
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
