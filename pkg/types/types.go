package types

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall server state (e.g., ready).
	// example: ready
	State string `json:"state" example:"ready"`
	// Number of open websocket connections.
	// example: 3
	ActiveConnections int `json:"active_connections" example:"3"`
	// Number of (handle, stream) pairs waiting for a decode step.
	// example: 2
	QueueDepth int `json:"queue_depth" example:"2"`
	// Number of streams currently queued or being decoded.
	// example: 2
	ActiveStreams int `json:"active_streams" example:"2"`
	// Configured high-water mark for the ready queue (0 = unbounded).
	// example: 64
	MaxActiveStreams int `json:"max_active_streams" example:"64"`
	// Total decode steps performed since startup.
	// example: 1042
	DecodeStepsTotal uint64 `json:"decode_steps_total" example:"1042"`
	// Sample rate expected for incoming audio, in Hz.
	// example: 16000
	SampleRate int `json:"sample_rate" example:"16000"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: not found
	Error string `json:"error" example:"not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
