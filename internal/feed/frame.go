package feed

// Frame types delivered to viewers.
const (
	FrameSnapshot = "snapshot"
	FrameDelta    = "delta"
)

// Frame is one element of the viewer-facing stream. A newly attached viewer
// receives a snapshot frame first, then a sequence of delta frames; a viewer
// that fell behind receives a fresh snapshot frame in place of the deltas it
// missed. The JSON shape is consumed as-is by the rendering layer.
type Frame struct {
	Type     string `json:"type"`
	Revision uint64 `json:"revision"`

	// Snapshot payload, set when Type == FrameSnapshot.
	Metrics   map[MetricName]float64 `json:"metrics,omitempty"`
	Positions []Position             `json:"positions,omitempty"`
	Activity  []ActivityEvent        `json:"activity,omitempty"`

	// Delta payload, set when Type == FrameDelta.
	Changed *Delta `json:"changedFields,omitempty"`
}

func snapshotFrame(s Snapshot) Frame {
	return Frame{
		Type:      FrameSnapshot,
		Revision:  s.Revision,
		Metrics:   s.Metrics,
		Positions: s.Positions,
		Activity:  s.Activity,
	}
}

func deltaFrame(revision uint64, d Delta) Frame {
	return Frame{
		Type:     FrameDelta,
		Revision: revision,
		Changed:  &d,
	}
}
