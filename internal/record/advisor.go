package record

import "fmt"

// AdvisorProfile carries an advisor's default per-minute rates, used when a
// session has no booking to take a negotiated rate from.
type AdvisorProfile struct {
	Version   int     `json:"schema_version"`
	AdvisorID string  `json:"advisor_id"`
	AudioRate float64 `json:"audio_rate"`
	VideoRate float64 `json:"video_rate"`
	ChatRate  float64 `json:"chat_rate"`
}

// RateFor returns the advisor's default per-minute rate for a channel kind.
func (p *AdvisorProfile) RateFor(kind SessionKind) (float64, error) {
	switch kind {
	case KindAudio:
		return p.AudioRate, nil
	case KindVideo:
		return p.VideoRate, nil
	case KindChat:
		return p.ChatRate, nil
	}
	return 0, fmt.Errorf("advisor profile %s: no rate for kind %q", p.AdvisorID, kind)
}

// Validate checks an advisor profile read back from the store.
func (p *AdvisorProfile) Validate() error {
	if p.AdvisorID == "" {
		return fmt.Errorf("advisor profile: missing advisor_id")
	}
	if p.AudioRate < 0 || p.VideoRate < 0 || p.ChatRate < 0 {
		return fmt.Errorf("advisor profile %s: negative rate", p.AdvisorID)
	}
	return nil
}
