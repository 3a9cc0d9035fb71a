package services

import (
	"strconv"
	"strings"

	"camstream/internal/core/domain"
)

// ConstrainedProfile is the one validated configuration for constrained
// hardware. Video width and height match the fixed preview surface on that
// tier; an encode size that differs from the live preview crashes the
// capture pipeline.
var ConstrainedProfile = domain.CapabilityProfile{
	Audio: domain.AudioProfile{
		Bitrate:      40_000,
		SampleRate:   16_000,
		ChannelCount: 1,
	},
	Video: domain.VideoProfile{
		Width:                   1280,
		Height:                  960,
		FPS:                     16,
		KeyframeIntervalSeconds: 4,
	},
}

// ConstrainedPreviewSurface is the preview size used on the constrained tier.
var ConstrainedPreviewSurface = domain.Surface{Width: 1280, Height: 960}

// legacyAndroidAPILevel is the last API level classified as constrained.
const legacyAndroidAPILevel = 27

// DeviceInfo is what capability probing reports at startup.
type DeviceInfo struct {
	Platform  string
	APILevel  int
	OSVersion string
	LowPower  bool
}

// ClassifyTier computes the device tier once. Callers thread the result
// through as data.
func ClassifyTier(info DeviceInfo) domain.DeviceTier {
	if info.LowPower {
		return domain.TierConstrained
	}
	if strings.EqualFold(info.Platform, "android") {
		level := info.APILevel
		if level == 0 {
			level = androidLevelFromVersion(info.OSVersion)
		}
		if level > 0 && level <= legacyAndroidAPILevel {
			return domain.TierConstrained
		}
	}
	return domain.TierDefault
}

// androidLevelFromVersion maps a release string to its API level for the
// releases that matter to classification.
func androidLevelFromVersion(version string) int {
	parts := strings.SplitN(version, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	switch {
	case major < 8:
		return 25
	case major == 8 && minor == 0:
		return 26
	case major == 8:
		return 27
	default:
		return 28 + (major - 9)
	}
}

// SelectVideo returns the effective video profile for tier. On the
// constrained tier only the requested bitrate survives.
func SelectVideo(tier domain.DeviceTier, requested domain.VideoProfile) domain.VideoProfile {
	if tier != domain.TierConstrained {
		return requested
	}
	effective := ConstrainedProfile.Video
	effective.Bitrate = requested.Bitrate
	return effective
}

// SelectAudio returns the effective audio profile for tier.
func SelectAudio(tier domain.DeviceTier, requested domain.AudioProfile) domain.AudioProfile {
	if tier != domain.TierConstrained {
		return requested
	}
	return ConstrainedProfile.Audio
}

// Select maps a requested profile to the one the resource will run with.
// It is pure: equal inputs give equal outputs.
func Select(tier domain.DeviceTier, requested domain.CapabilityProfile) domain.CapabilityProfile {
	return domain.CapabilityProfile{
		Audio: SelectAudio(tier, requested.Audio),
		Video: SelectVideo(tier, requested.Video),
	}
}
