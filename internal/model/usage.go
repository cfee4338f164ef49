package model

import "time"

// UsageRecord is one immutable audit entry for a single intercepted request.
// CredentialID is nil when the caller's access key did not resolve to a
// stored credential.
type UsageRecord struct {
	ID             int64     `json:"id" db:"id"`
	CredentialID   *int64    `json:"credential_id" db:"credential_id"`
	ServiceName    string    `json:"service_name" db:"service_name"`
	RequestedAt    time.Time `json:"timestamp" db:"requested_at"`
	Method         string    `json:"method" db:"method"`
	Endpoint       string    `json:"endpoint" db:"endpoint"`
	Status         int       `json:"status" db:"status"`
	ResponseTimeMs float64   `json:"response_time_ms" db:"response_time_ms"`
	ClientIP       string    `json:"client_ip" db:"client_ip"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	Error          *string   `json:"error,omitempty" db:"error_message"`
}

// UsageStats aggregates usage records over a trailing window.
type UsageStats struct {
	ServiceName       string  `json:"service_name,omitempty"`
	PeriodDays        int     `json:"period_days"`
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	ActiveCredentials int64   `json:"active_credentials"`
}

// ErrorEntry is one row of the error report.
type ErrorEntry struct {
	Timestamp    time.Time `json:"timestamp" db:"requested_at"`
	CredentialID *int64    `json:"credential_id,omitempty" db:"credential_id"`
	ServiceName  string    `json:"service" db:"service_name"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	Status       int       `json:"status" db:"status"`
	Error        string    `json:"error" db:"error_message"`
}

// RateLimitStatus exposes the rate limiter's view of one credential.
type RateLimitStatus struct {
	CredentialID int64     `json:"credential_id"`
	ServiceName  string    `json:"service"`
	Limit        int       `json:"limit"`
	Used         int       `json:"used"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
}
