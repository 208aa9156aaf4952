package fusion

import (
	"fmt"
	"math"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// fireScore is the chance that at least one nearby detection is a real
// threat: each detection counts with its confidence scaled by proximity.
func fireScore(center domain.Location, fires []domain.FireDetection, radiusKm float64) float64 {
	if radiusKm <= 0 {
		return 0
	}
	miss := 1.0
	for _, d := range fires {
		prox := 1 - domain.DistanceKm(center, d.Location())/radiusKm
		miss *= 1 - d.ConfidenceClass().Score()*clamp01(prox)
	}
	return clamp01(1 - miss)
}

func severityScore(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 0.8
	case domain.SeverityHigh:
		return 0.5
	case domain.SeverityMedium:
		return 0.25
	case domain.SeverityLow:
		return 0.1
	}
	return 0
}

func reportScore(reports []domain.Report) float64 {
	miss := 1.0
	for _, r := range reports {
		miss *= 1 - severityScore(r.Severity)
	}
	return clamp01(1 - miss)
}

// weatherScore rates fire weather: heat, dry air, and wind.
func weatherScore(w domain.WeatherSnapshot) float64 {
	heat := clamp01((w.Temperature - 20) / 20)
	dry := clamp01((50 - w.Humidity) / 40)
	wind := clamp01(w.WindSpeed / 50)
	return clamp01(0.4*heat + 0.3*dry + 0.3*wind)
}

func heuristicSummary(f domain.Findings) string {
	s := fmt.Sprintf("%d fire detections and %d recent reports in range", f.FireCount, f.ReportCount)
	if f.NearestFireKm != nil {
		s += fmt.Sprintf("; nearest fire %.1f km away", *f.NearestFireKm)
	}
	if f.Weather != nil {
		s += fmt.Sprintf("; %s, %.0f°C, %.0f%% humidity", f.Weather.Description, f.Weather.Temperature, f.Weather.Humidity)
	}
	return s + "."
}

func recommendations(s domain.SignalScores) []string {
	var out []string
	if s.Fire >= 0.5 {
		out = append(out, "Follow evacuation orders from local authorities and prepare to leave.")
	}
	if s.Reports >= 0.5 {
		out = append(out, "Review recent community reports for this area.")
	}
	if s.Weather >= 0.5 {
		out = append(out, "Avoid outdoor burning; fire weather conditions are elevated.")
	}
	if len(out) == 0 {
		out = append(out, "No immediate action required. Stay informed.")
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
