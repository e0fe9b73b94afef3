package call

// Snapshot is one sampled frame of amplitude data used for visualization.
// A snapshot is never mutated after it is published.
type Snapshot struct {
	FrequencyBins []uint8 `json:"frequencyBins"`
	TimeBins      []uint8 `json:"timeBins"`
	Volume        float64 `json:"volume"`
}

// VisualizationSource tags which stream currently feeds the visualizer.
type VisualizationSource int

const (
	SourceNone VisualizationSource = iota
	SourceUser
	SourceAgent
)

func (s VisualizationSource) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceAgent:
		return "agent"
	default:
		return "none"
	}
}
