package domain

import "time"

// Signal sources.
const (
	SourceReport = "report"
	SourceFire   = "fire"
)

// Signal is one weighted observation attributed to a partition cell.
type Signal struct {
	ID         string
	Source     string
	HazardType string
	Weight     float64
	At         time.Time
	// Critical marks a report with urgentLevel=critical.
	Critical bool
}

// ReportSignal derives the crisis signal of a stored report.
func ReportSignal(r Report) Signal {
	return Signal{
		ID:         r.ID,
		Source:     SourceReport,
		HazardType: r.HazardType,
		Weight:     r.Severity.Weight(),
		At:         r.CreatedAt,
		Critical:   r.UrgentLevel == SeverityCritical,
	}
}

// FireSignal derives the crisis signal of a fire detection.
func FireSignal(d FireDetection) Signal {
	return Signal{
		ID:         d.ID,
		Source:     SourceFire,
		HazardType: "wildfire",
		Weight:     d.ConfidenceClass().Weight(),
		At:         d.AcquiredAt,
	}
}

// PartitionSignal is a signal addressed to the partition it was observed in.
type PartitionSignal struct {
	Key    PartitionKey
	Signal Signal
}
