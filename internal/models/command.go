package models

import "time"

// OperationState tracks one in-flight device operation, such as a restore,
// so an interrupted run can be reported after a restart.
type OperationState struct {
	ExecutionID string    `json:"execution_id"`
	Action      string    `json:"action"`
	Source      string    `json:"source,omitempty"` // backup filename for restores
	Total       int       `json:"total"`
	Done        int       `json:"done"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActionRecord is one entry in the action history.
type ActionRecord struct {
	ID           int64     `json:"id"`
	Action       string    `json:"action"`
	DeviceSerial string    `json:"deviceSerial"`
	PackageName  string    `json:"packageName"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
