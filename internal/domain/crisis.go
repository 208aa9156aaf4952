package domain

import "time"

// CrisisLevel is the state of a partition's crisis machine.
type CrisisLevel string

const (
	LevelNormal   CrisisLevel = "normal"
	LevelElevated CrisisLevel = "elevated"
	LevelCrisis   CrisisLevel = "crisis"
)

// AlertSeverity is the alert severity mirrored from a level.
func (l CrisisLevel) AlertSeverity() Severity {
	switch l {
	case LevelCrisis:
		return SeverityCritical
	case LevelElevated:
		return SeverityHigh
	}
	return ""
}

// CrisisState is the per-partition view of the crisis machine.
type CrisisState struct {
	Partition        string      `json:"partition"`
	Level            CrisisLevel `json:"state"`
	Score            float64     `json:"score"`
	LastTransitionAt time.Time   `json:"lastTransitionAt"`
	EvaluatedAt      time.Time   `json:"evaluatedAt"`
}
