package models

// Retry and attempt limits governing the five-phase pipeline.
const (
	MaxAttempts           = 3
	MaxPlanRetries        = 2
	MaxImplementorRetries = 3
	MaxReviewRetries      = 3
	DefaultMaxIterations  = 3
)

// Default body-size and buffer limits for the status HTTP server.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultSSEChannelBuffer    = 256
)
