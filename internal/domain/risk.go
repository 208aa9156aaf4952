package domain

import "time"

// Score sources for a risk assessment.
const (
	ScoreSourceOracle    = "oracle"
	ScoreSourceHeuristic = "heuristic"
)

// DefaultAnalysisType is used when a request names none.
const DefaultAnalysisType = "risk-assessment"

// RiskAssessment is the fused risk for a location.
type RiskAssessment struct {
	Location     Location  `json:"location"`
	AnalysisType string    `json:"analysisType"`
	Confidence   float64   `json:"confidence"`
	Findings     Findings  `json:"analysis"`
	AssessedAt   time.Time `json:"assessedAt"`
}

// Findings is the structured explanation of a risk assessment.
type Findings struct {
	RiskLevel        Severity           `json:"riskLevel"`
	Summary          string             `json:"summary"`
	Source           string             `json:"source"`
	Partition        string             `json:"partition"`
	Signals          SignalScores       `json:"signals"`
	FireCount        int                `json:"fireCount"`
	NearestFireKm    *float64           `json:"nearestFireKm,omitempty"`
	ReportCount      int                `json:"reportCount"`
	HighestSeverity  Severity           `json:"highestSeverity,omitempty"`
	Weather          *WeatherBrief      `json:"weather,omitempty"`
	Recommendations  []string           `json:"recommendations"`
	OracleError      string             `json:"oracleError,omitempty"`
	ComponentWeights map[string]float64 `json:"componentWeights"`
}

// SignalScores are the per-input components of the heuristic, each in [0,1].
type SignalScores struct {
	Fire    float64 `json:"fire"`
	Reports float64 `json:"reports"`
	Weather float64 `json:"weather"`
}

// WeatherBrief summarizes the weather input of an assessment.
type WeatherBrief struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	Description string  `json:"description"`
	Stale       bool    `json:"stale"`
}

// RiskLevelFor maps a confidence onto the severity scale.
func RiskLevelFor(confidence float64) Severity {
	switch {
	case confidence >= 0.75:
		return SeverityCritical
	case confidence >= 0.5:
		return SeverityHigh
	case confidence >= 0.25:
		return SeverityMedium
	}
	return SeverityLow
}
