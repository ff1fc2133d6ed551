package settings

import (
	"time"

	"video-compare/internal/compositor"
	"video-compare/internal/playback"
)

// Settings are the user-adjustable parameters of one source pair.
type Settings struct {
	RefA string `json:"refA"`
	RefB string `json:"refB"`

	// Offset is the offset of source B relative to A.
	Offset    time.Duration       `json:"offset"`
	Mode      compositor.Mode     `json:"mode"`
	Threshold uint8               `json:"threshold"`
	ColorMap  compositor.ColorMap `json:"colorMap"`
	Division  float64             `json:"division"`
	Speed     float64             `json:"speed"`
	EndPolicy playback.EndPolicy  `json:"endPolicy"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// FromState captures the adjustable parts of a playback state.
func FromState(refA, refB string, st playback.SyncState) Settings {
	return Settings{
		RefA:      refA,
		RefB:      refB,
		Offset:    st.Offsets[1],
		Mode:      st.Mode,
		Threshold: st.Threshold,
		ColorMap:  st.ColorMap,
		Division:  st.Division,
		Speed:     st.Speed,
		EndPolicy: st.EndPolicy,
	}
}
