package models

import (
	"strings"
	"time"
)

// Session identifies the milking slot of a collection event
type Session string

const (
	SessionMorning Session = "morning"
	SessionEvening Session = "evening"
)

// MilkRecord is one farmer reading for one session at one centre.
// JSON names are shared with the UI and report collaborators.
type MilkRecord struct {
	ID         string    `json:"id"`
	Date       string    `json:"date"` // YYYY-MM-DD
	CenterCode string    `json:"centerCode"`
	FarmerCode string    `json:"farmerCode"`
	Session    Session   `json:"session"`
	Quantity   float64   `json:"quantity"` // liters
	Fat        float64   `json:"fat"`      // %
	SNF        float64   `json:"snf"`      // %
	Rate       float64   `json:"rate"`     // per liter
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
	EmployeeID string    `json:"employeeId,omitempty"`
}

// MilkRecordID builds the composite key of a collection event.
// The same event always maps to the same id, which is what makes ingest idempotent.
func MilkRecordID(date, centerCode, farmerCode string, session Session) string {
	return strings.Join([]string{date, centerCode, farmerCode, string(session)}, "|")
}
