package app

// StopReason says why the app is shutting down. It is logged by Stop.
type StopReason string

const (
	StopUnknown   StopReason = "unknown"
	StopSignal    StopReason = "signal"
	StopExhausted StopReason = "tasks_exhausted"
	StopFatal     StopReason = "fatal_error"
)
