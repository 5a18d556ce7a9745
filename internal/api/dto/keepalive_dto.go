package dto

// ServiceWarmup reports one dependency contacted by the warmup endpoint.
type ServiceWarmup struct {
	Status    string  `json:"status"`
	ElapsedMs float64 `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
}

// WarmupResponse aggregates the per-service warmup results.
type WarmupResponse struct {
	Status       string                   `json:"status"`
	Services     map[string]ServiceWarmup `json:"services"`
	TotalElapsed float64                  `json:"total_warmup_time_ms"`
}

// TokenStatusResponse describes the cached Graph token.
type TokenStatusResponse struct {
	TokenAvailable   bool   `json:"token_available"`
	ExpiresInSeconds *int64 `json:"expires_in_seconds"`
}
