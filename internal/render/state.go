package render

import "github.com/NielsdaWheelz/marginalia/core/segment"

// VisualState is the display treatment a single rendered marker or overlay
// rectangle should receive for a given interaction.
type VisualState string

const (
	// StateNone means the marker is unaffected by the current interaction.
	StateNone VisualState = ""
	// StateActive means the interacted highlight is the marker's winner,
	// so the marker shows the full treatment (emphasized fill, outline).
	StateActive VisualState = "active"
	// StateDimmed means the interacted highlight covers the marker but
	// lost the overlap contest there, so the marker shows a muted cue.
	StateDimmed VisualState = "dimmed"
)

// OverlayState computes the visual state of every segment for an
// interaction with a single highlight. It is a pure function of the
// interacted highlight id and the rendered segmentation, so the caller can
// re-project on every hover or selection change without tracking per-marker
// flags. An empty id means no interaction and yields StateNone everywhere.
//
// The returned slice is parallel to segments.
func OverlayState(activeID string, segments []segment.Segment) []VisualState {
	states := make([]VisualState, len(segments))
	if activeID == "" {
		return states
	}
	for i, seg := range segments {
		switch {
		case seg.WinnerID == activeID:
			states[i] = StateActive
		case containsID(seg.ActiveIDs, activeID):
			states[i] = StateDimmed
		}
	}
	return states
}

// MarkerState computes the visual state of a single rendered marker from
// its winner and covering-id set, for callers that keep markers rather than
// the segmentation.
func MarkerState(activeID, winnerID string, activeIDs []string) VisualState {
	if activeID == "" {
		return StateNone
	}
	if winnerID == activeID {
		return StateActive
	}
	if containsID(activeIDs, activeID) {
		return StateDimmed
	}
	return StateNone
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
