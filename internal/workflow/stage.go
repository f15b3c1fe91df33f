// stage.go defines the eight-stage audit workflow as a single enum whose
// ordinal is the stored stage number. The stage name shown to users and the
// stage number persisted on the audit come from the same value, so the two
// can never drift apart.
package workflow

import "fmt"

// Stage is an audit's position in the workflow. Values are the persisted
// stage numbers (1-8).
type Stage int

const (
	StageConfiguration Stage = iota + 1
	StageNotification
	StageOnsitePresentationUpload
	StageInventoryUpload
	StageAutomaticValidation
	StageAuditorReview
	StageResultNotification
	StageCompleted
)

var stateNames = map[Stage]string{
	StageConfiguration:            "configuration",
	StageNotification:             "notification",
	StageOnsitePresentationUpload: "onsite_presentation_upload",
	StageInventoryUpload:          "inventory_upload",
	StageAutomaticValidation:      "automatic_validation",
	StageAuditorReview:            "auditor_review",
	StageResultNotification:       "result_notification",
	StageCompleted:                "completed",
}

// State returns the canonical state name for this stage.
func (s Stage) State() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", int(s))
}

// Valid reports whether s is one of the eight workflow stages.
func (s Stage) Valid() bool {
	return s >= StageConfiguration && s <= StageCompleted
}

// Terminal reports whether the stage has no outgoing transition.
func (s Stage) Terminal() bool {
	return s == StageCompleted
}

// Automatic reports whether entering this stage runs automatic actions.
func (s Stage) Automatic() bool {
	switch s {
	case StageNotification, StageAutomaticValidation, StageResultNotification, StageCompleted:
		return true
	}
	return false
}

// Next returns the following stage. Only meaningful for non-terminal stages.
func (s Stage) Next() Stage {
	return s + 1
}
