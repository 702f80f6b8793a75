package sketch

import "time"

// LoadingState 表示生成流程当前所处的阶段。
type LoadingState string

const (
	StateIdle       LoadingState = "idle"
	StateListening  LoadingState = "listening"
	StateProcessing LoadingState = "processing"
	StateGenerating LoadingState = "generating"
	StateSuccess    LoadingState = "success"
	StateError      LoadingState = "error"
)

// AllStates lists every loading state in lifecycle order.
func AllStates() []LoadingState {
	return []LoadingState{StateIdle, StateListening, StateProcessing, StateGenerating, StateSuccess, StateError}
}

// Valid reports whether s is one of the known states.
func (s LoadingState) Valid() bool {
	switch s {
	case StateIdle, StateListening, StateProcessing, StateGenerating, StateSuccess, StateError:
		return true
	default:
		return false
	}
}

// Busy 表示有网络请求正在进行。
func (s LoadingState) Busy() bool {
	return s == StateProcessing || s == StateGenerating
}

// Metrics captures timings for one successful creation cycle.
type Metrics struct {
	EnhanceMillis  int64 `json:"enhanceMillis"`
	GenerateMillis int64 `json:"generateMillis"`
	TotalMillis    int64 `json:"totalMillis"`
}

// NewMetrics builds Metrics from the measured phase durations.
func NewMetrics(enhance, generate time.Duration) Metrics {
	return Metrics{
		EnhanceMillis:  enhance.Milliseconds(),
		GenerateMillis: generate.Milliseconds(),
		TotalMillis:    (enhance + generate).Milliseconds(),
	}
}
