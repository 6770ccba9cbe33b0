package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ComputeRewardsRequest is the request body for POST /v1/rewards/compute.
type ComputeRewardsRequest struct {
	Filter FeedbackFilter `json:"filter"`
	// WeightVersion selects the weight config; empty means the latest version.
	WeightVersion string `json:"weight_version,omitempty"`
}

// BuildDatasetRequest is the request body for POST /v1/datasets.
type BuildDatasetRequest struct {
	Criteria  DatasetCriteria `json:"criteria"`
	MinReward *float64        `json:"min_reward,omitempty"`
}

// CreateWeightConfigRequest is the request body for POST /v1/weights.
type CreateWeightConfigRequest struct {
	Version        string  `json:"version"`
	RatingsWeight  float64 `json:"ratings_weight"`
	BinaryWeight   float64 `json:"binary_weight"`
	CitationWeight float64 `json:"citation_weight"`
	LatencyWeight  float64 `json:"latency_weight"`
	// HalfLife is a Go duration string, e.g. "6h". Empty uses the server default.
	HalfLife string `json:"half_life,omitempty"`
}
