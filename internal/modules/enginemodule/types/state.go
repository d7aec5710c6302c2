package types

// Phase is the scheduler's execution state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseWorking
	PhasePaused
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseWorking:
		return "working"
	case PhasePaused:
		return "paused"
	case PhaseStopping:
		return "stopping"
	}
	return "unknown"
}

// MarshalText renders the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// WorkError is the outcome code of the last finished job.
type WorkError int

const (
	WorkErrorNone WorkError = iota
	WorkErrorCancelled
	WorkErrorWrongInput
	WorkErrorInit
	WorkErrorRead
	WorkErrorUnknown
)

func (e WorkError) String() string {
	switch e {
	case WorkErrorNone:
		return "none"
	case WorkErrorCancelled:
		return "cancelled"
	case WorkErrorWrongInput:
		return "wrong_input"
	case WorkErrorInit:
		return "init"
	case WorkErrorRead:
		return "read"
	}
	return "unknown"
}

// MarshalText renders the error code by name.
func (e WorkError) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// ScanProgress reports scan position.
type ScanProgress struct {
	TitleCur     int     `json:"title_cur"`
	TitleCount   int     `json:"title_count"`
	PreviewCur   int     `json:"preview_cur"`
	PreviewCount int     `json:"preview_count"`
	Progress     float64 `json:"progress"`
}

// WorkProgress reports job position.
type WorkProgress struct {
	JobID      string     `json:"job_id"`
	Sequence   SequenceID `json:"sequence"`
	Pass       Pass       `json:"pass"`
	PassCount  int        `json:"pass_count"`
	PassCur    int        `json:"pass_cur"`
	Frames     int64      `json:"frames"`
	Progress   float64    `json:"progress"`
	Rate       float64    `json:"rate"`
	RateAvg    float64    `json:"rate_avg"`
	ETASeconds int64      `json:"eta_seconds"`
	JobsDone   int        `json:"jobs_done"`
	JobsQueued int        `json:"jobs_queued"`
}

// State is a point-in-time copy of the engine's progress. Values handed to
// callers are never shared with the engine.
type State struct {
	Phase   Phase        `json:"phase"`
	Scan    ScanProgress `json:"scan"`
	Work    WorkProgress `json:"work"`
	Muxing  bool         `json:"muxing"`
	Paused  bool         `json:"paused"`
	Error   WorkError    `json:"error"`
	Message string       `json:"message,omitempty"`

	// ScanDone and WorkDone are one-shot completion events.
	ScanDone bool `json:"scan_done"`
	WorkDone bool `json:"work_done"`
}
