package anomaly

import (
	"errors"
	"time"
)

// Risk is the severity of a flag.
type Risk string

const (
	RiskCritical Risk = "Critical"
	RiskWarning  Risk = "Warning"
	RiskInfo     Risk = "Info"
)

// EntityType classifies whom a flag is about.
type EntityType string

const (
	EntityUser   EntityType = "User"
	EntityAdmin  EntityType = "Admin"
	EntitySystem EntityType = "System"
)

// DetectorType names the rule that produced a flag.
type DetectorType string

const (
	DetectorAuth      DetectorType = "AUTH"
	DetectorPayment   DetectorType = "PAYMENT"
	DetectorOverride  DetectorType = "OVERRIDE"
	DetectorMargin    DetectorType = "MARGIN"
	DetectorInventory DetectorType = "INVENTORY"
)

// Flag is a derived anomaly signal. It is recomputed on every scan and never
// stored; the records it points at stay authoritative.
type Flag struct {
	ID     string `json:"id"`
	Entity string `json:"entity"`
	// EntityID identifies the actor behind Entity when one is known.
	EntityID   string       `json:"entity_id,omitempty"`
	EntityType EntityType   `json:"entity_type"`
	Category   string       `json:"category"`
	Risk       Risk         `json:"risk"`
	Reason     string       `json:"reason"`
	RefID      string       `json:"ref_id"`
	Timestamp  time.Time    `json:"timestamp"`
	Detector   DetectorType `json:"detector"`
}

// Source names one input collection of a scan.
type Source string

const (
	SourceAudit        Source = "audit"
	SourceActivity     Source = "activity"
	SourceTransactions Source = "transactions"
	SourceRepairs      Source = "repairs"
	SourceInventory    Source = "inventory"
)

// ErrInputUnavailable marks a source that could not be read. The rules that
// depend on it are skipped; the rest of the scan proceeds.
var ErrInputUnavailable = errors.New("anomaly: detector input unavailable")

// Skipped records a rule that did not run.
type Skipped struct {
	Detector DetectorType `json:"detector"`
	Source   Source       `json:"source"`
	Reason   string       `json:"reason"`
}

// Report is the full outcome of a scan.
type Report struct {
	Flags     []Flag    `json:"flags"`
	Skipped   []Skipped `json:"skipped,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}
