package api

import "time"

// AdmitRequest asks whether one call to a provider may proceed.
type AdmitRequest struct {
	Provider string `json:"provider"`
}

// RecordRequest reports the outcome of a call that was admitted earlier.
type RecordRequest struct {
	Provider      string `json:"provider"`
	Outcome       string `json:"outcome"`
	AuthSource    string `json:"auth_source"`
	QuotaRejected bool   `json:"quota_rejected"`
}

// RecordResponse acknowledges a persisted record.
type RecordResponse struct {
	Status   string    `json:"status"`
	Provider string    `json:"provider"`
	At       time.Time `json:"at"`
}
