package domain

import "time"

// Deployment records a single deploy attempt for the history endpoint.
type Deployment struct {
	ID        string    `json:"id"`
	SiteName  string    `json:"site_name"`
	URL       string    `json:"url,omitempty"`
	FileName  string    `json:"file_name"`
	SizeBytes int64     `json:"size_bytes"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
