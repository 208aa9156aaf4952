// Command probe runs black-box checks against a running hazard alert
// service and reports pass/fail per phase.
//
// Usage:
//
//	go run ./cmd/probe -base-url http://localhost:8080/api
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Los Angeles, used by every location-scoped probe.
var la = domain.Location{Lat: 34.052235, Lng: -118.243683}

// phase tracks pass/fail for a probe phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type prober struct {
	client *resty.Client
	state  string
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080/api", "API base URL")
	state := flag.String("state", "California", "state for the fires-by-state probe")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Parse()

	p := &prober{
		client: resty.New().
			SetBaseURL(strings.TrimRight(*baseURL, "/")).
			SetTimeout(*timeout).
			SetHeader("Accept", "application/json"),
		state: *state,
	}

	phases := []*phase{
		p.submitReport(),
		p.listReports(),
		p.crisisScenario(),
		p.firesNearby(),
		p.firesByState(),
		p.aiAnalysis(),
		p.weather(),
		p.alerts(),
		p.familyGroups(),
	}

	failed := 0
	for _, ph := range phases {
		if ph.passed() {
			fmt.Printf("PASS  %s\n", ph.name)
			continue
		}
		failed++
		fmt.Printf("FAIL  %s\n", ph.name)
		for _, e := range ph.errors {
			fmt.Printf("      - %s\n", e)
		}
	}
	fmt.Printf("\n%d/%d phases passed\n", len(phases)-failed, len(phases))
	if failed > 0 {
		os.Exit(1)
	}
}

type submitResponse struct {
	Success               bool                `json:"success"`
	ReportID              string              `json:"reportId"`
	HierarchicalPartition domain.PartitionKey `json:"hierarchicalPartition"`
	Message               string              `json:"message"`
}

func (p *prober) submit(ph *phase, severity, urgent string) (submitResponse, bool) {
	body := map[string]any{
		"location":     la,
		"description":  "Smoke and visible flames near the ridge line",
		"hazardType":   "fire-spotting",
		"severity":     severity,
		"reporterName": "probe",
	}
	if urgent != "" {
		body["urgentLevel"] = urgent
	}
	var out submitResponse
	resp, err := p.client.R().SetBody(body).SetResult(&out).Post("/community/report")
	if err != nil {
		ph.errorf("submit report: %v", err)
		return out, false
	}
	if resp.StatusCode() != http.StatusOK {
		ph.errorf("submit report: status %d: %s", resp.StatusCode(), resp.String())
		return out, false
	}
	if !out.Success || out.ReportID == "" {
		ph.errorf("submit report: success=%v reportId=%q", out.Success, out.ReportID)
		return out, false
	}
	return out, true
}

func (p *prober) submitReport() *phase {
	ph := &phase{name: "submit community report"}
	out, ok := p.submit(ph, "medium", "")
	if !ok {
		return ph
	}
	if out.Message != "Community report submitted successfully" {
		ph.errorf("unexpected message %q", out.Message)
	}
	if out.HierarchicalPartition.IsZero() {
		ph.errorf("missing hierarchicalPartition")
	}

	resp, err := p.client.R().SetBody(map[string]any{"hazardType": "flood", "severity": "low"}).Post("/community/report")
	if err != nil {
		ph.errorf("invalid report: %v", err)
	} else if resp.StatusCode() < 400 || resp.StatusCode() >= 500 {
		ph.errorf("invalid report: expected 4xx, got %d", resp.StatusCode())
	}
	return ph
}

func (p *prober) listReports() *phase {
	ph := &phase{name: "community reports by location"}
	const radius, limit = 10.0, 5
	var reports []domain.Report
	resp, err := p.client.R().
		SetQueryParams(locationParams(la, radius)).
		SetQueryParam("limit", fmt.Sprint(limit)).
		SetResult(&reports).
		Get("/community/reports")
	if !p.ok(ph, resp, err) {
		return ph
	}
	if len(reports) > limit {
		ph.errorf("got %d reports, limit %d", len(reports), limit)
	}
	for _, r := range reports {
		if d := domain.DistanceKm(la, r.Location); d > radius {
			ph.errorf("report %s is %.2f km away, radius %.0f", r.ID, d, radius)
		}
		if r.Description == "" || r.HazardType == "" || r.Severity == "" {
			ph.errorf("report %s is missing fields", r.ID)
		}
	}
	return ph
}

func (p *prober) crisisScenario() *phase {
	ph := &phase{name: "critical report raises alert"}
	if _, ok := p.submit(ph, "critical", "critical"); !ok {
		return ph
	}
	alerts, ok := p.currentAlerts(ph)
	if !ok {
		return ph
	}
	for _, a := range alerts {
		if a.Severity == "high" || a.Severity == "critical" {
			return ph
		}
	}
	ph.errorf("no high or critical alert among %d alerts", len(alerts))
	return ph
}

func (p *prober) firesNearby() *phase {
	ph := &phase{name: "fires nearby"}
	const radius = 50.0
	var fires []domain.FireDetection
	resp, err := p.client.R().
		SetQueryParams(locationParams(domain.Location{Lat: 34.0522, Lng: -118.2437}, radius)).
		SetResult(&fires).
		Get("/fire-data/nearby")
	if !p.ok(ph, resp, err) {
		return ph
	}
	for _, f := range fires {
		if d := domain.DistanceKm(domain.Location{Lat: 34.0522, Lng: -118.2437}, f.Location()); d > radius {
			ph.errorf("fire %s is %.2f km away, radius %.0f", f.ID, d, radius)
		}
	}
	return ph
}

func (p *prober) firesByState() *phase {
	ph := &phase{name: "fires by state"}
	var fires []domain.FireDetection
	resp, err := p.client.R().SetQueryParam("state", p.state).SetResult(&fires).Get("/fire-data/state")
	if !p.ok(ph, resp, err) {
		return ph
	}
	for _, f := range fires {
		if !strings.EqualFold(f.State, p.state) {
			ph.errorf("fire %s has state %q", f.ID, f.State)
		}
	}
	return ph
}

func (p *prober) aiAnalysis() *phase {
	ph := &phase{name: "AI risk analysis"}
	var out struct {
		Success    bool            `json:"success"`
		Analysis   domain.Findings `json:"analysis"`
		Confidence float64         `json:"confidence"`
	}
	start := time.Now()
	resp, err := p.client.R().
		SetBody(map[string]any{"location": la, "analysisType": domain.DefaultAnalysisType}).
		SetResult(&out).
		Post("/ai-analysis/analyze")
	elapsed := time.Since(start)
	if !p.ok(ph, resp, err) {
		return ph
	}
	if elapsed > 5*time.Second {
		ph.errorf("took %s, bound is 5s", elapsed.Round(time.Millisecond))
	}
	if !out.Success {
		ph.errorf("success=false")
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		ph.errorf("confidence %v outside [0,1]", out.Confidence)
	}
	return ph
}

func (p *prober) weather() *phase {
	ph := &phase{name: "current weather"}
	var out struct {
		Success bool           `json:"success"`
		Weather map[string]any `json:"weather"`
	}
	resp, err := p.client.R().SetQueryParams(locationParams(la, 0)).SetResult(&out).Get("/weather/current")
	if !p.ok(ph, resp, err) {
		return ph
	}
	for _, k := range []string{"temperature", "humidity", "windSpeed", "description", "timestamp"} {
		if _, ok := out.Weather[k]; !ok {
			ph.errorf("weather missing %q", k)
		}
	}

	resp, err = p.client.R().Get("/weather/current")
	if err != nil {
		ph.errorf("weather without location: %v", err)
	} else if resp.StatusCode() < 400 || resp.StatusCode() >= 500 {
		ph.errorf("weather without location: expected 4xx, got %d", resp.StatusCode())
	}
	return ph
}

func (p *prober) alerts() *phase {
	ph := &phase{name: "current alerts shape"}
	alerts, ok := p.currentAlerts(ph)
	if !ok {
		return ph
	}
	for _, a := range alerts {
		if a.ID == "" || a.Title == "" || a.StartTime == "" || a.EndTime == "" || a.Type == "" {
			ph.errorf("alert %q is missing fields", a.ID)
		}
		if _, err := domain.ParseSeverity(a.Severity); err != nil {
			ph.errorf("alert %s: %v", a.ID, err)
		}
	}
	return ph
}

type alertView struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    string          `json:"severity"`
	StartTime   string          `json:"startTime"`
	EndTime     string          `json:"endTime"`
	Location    domain.Location `json:"location"`
	Type        string          `json:"type"`
}

func (p *prober) currentAlerts(ph *phase) ([]alertView, bool) {
	var alerts []alertView
	resp, err := p.client.R().SetQueryParams(locationParams(la, 0)).SetResult(&alerts).Get("/alerts/current")
	return alerts, p.ok(ph, resp, err)
}

func (p *prober) familyGroups() *phase {
	ph := &phase{name: "family groups"}
	code := "PROBE-" + strings.ToUpper(uuid.NewString()[:8])
	group := domain.FamilyGroup{
		GroupName: "Probe Family",
		Members:   []domain.FamilyMember{{ID: uuid.NewString(), Name: "Probe Creator", Role: "creator"}},
		Status:    "active",
	}

	var saved struct {
		Success   bool   `json:"success"`
		GroupCode string `json:"groupCode"`
	}
	resp, err := p.client.R().SetBody(map[string]any{"data": group}).SetResult(&saved).Put("/family-groups/" + code)
	if !p.ok(ph, resp, err) {
		return ph
	}
	if !saved.Success || saved.GroupCode != code {
		ph.errorf("save: success=%v groupCode=%q", saved.Success, saved.GroupCode)
	}

	group.Members = append(group.Members, domain.FamilyMember{ID: uuid.NewString(), Name: "Probe Member", Role: "member"})
	resp, err = p.client.R().SetBody(map[string]any{"data": group}).Put("/family-groups/" + code)
	if !p.ok(ph, resp, err) {
		return ph
	}

	var got struct {
		Success bool               `json:"success"`
		Data    domain.FamilyGroup `json:"data"`
	}
	resp, err = p.client.R().SetResult(&got).Get("/family-groups/" + code)
	if !p.ok(ph, resp, err) {
		return ph
	}
	if len(got.Data.Members) != 2 {
		ph.errorf("expected 2 members after join, got %d", len(got.Data.Members))
	}
	return ph
}

func (p *prober) ok(ph *phase, resp *resty.Response, err error) bool {
	if err != nil {
		ph.errorf("request failed: %v", err)
		return false
	}
	if resp.StatusCode() != http.StatusOK {
		ph.errorf("%s %s: status %d: %s", resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.String())
		return false
	}
	if ct := resp.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		ph.errorf("unexpected Content-Type %q", ct)
		return false
	}
	return true
}

func locationParams(loc domain.Location, radiusKm float64) map[string]string {
	params := map[string]string{
		"lat": fmt.Sprintf("%.6f", loc.Lat),
		"lng": fmt.Sprintf("%.6f", loc.Lng),
	}
	if radiusKm > 0 {
		params["radius"] = fmt.Sprintf("%g", radiusKm)
	}
	return params
}
