package domain

type DeviceTier int

const (
	TierDefault DeviceTier = iota
	// TierConstrained covers legacy or low-power hardware that only runs
	// with the fixed validated profile.
	TierConstrained
)

func (t DeviceTier) String() string {
	if t == TierConstrained {
		return "constrained"
	}
	return "default"
}

type AudioProfile struct {
	Bitrate      int `json:"bitrate"`
	SampleRate   int `json:"sample_rate"`
	ChannelCount int `json:"channel_count"`
}

type VideoProfile struct {
	Bitrate                 int     `json:"bitrate"`
	Width                   int     `json:"width"`
	Height                  int     `json:"height"`
	FPS                     float64 `json:"fps"`
	KeyframeIntervalSeconds float64 `json:"keyframe_interval_seconds"`
}

// SameExceptBitrate reports whether v and o differ at most in bitrate.
func (v VideoProfile) SameExceptBitrate(o VideoProfile) bool {
	v.Bitrate = o.Bitrate
	return v == o
}

// SameExceptBitrate reports whether a and o differ at most in bitrate.
func (a AudioProfile) SameExceptBitrate(o AudioProfile) bool {
	a.Bitrate = o.Bitrate
	return a == o
}

type CapabilityProfile struct {
	Audio AudioProfile `json:"audio"`
	Video VideoProfile `json:"video"`
}
