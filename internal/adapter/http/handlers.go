package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
	"github.com/go-chi/chi/v5"
)

const (
	defaultFireRadiusKm = 50
	maxFireRadiusKm     = 1000
)

type submitReportResponse struct {
	Success               bool                `json:"success"`
	ReportID              string              `json:"reportId"`
	HierarchicalPartition domain.PartitionKey `json:"hierarchicalPartition"`
	PartitionKey          string              `json:"partitionKey"`
	Message               string              `json:"message"`
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := decodeBody(w, r, &sub); err != nil {
		writeError(w, s.logger, err)
		return
	}
	receipt, err := s.svc.Reports.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, submitReportResponse{
		Success:               true,
		ReportID:              receipt.ReportID,
		HierarchicalPartition: receipt.Partition,
		PartitionKey:          receipt.Partition.String(),
		Message:               "Community report submitted successfully",
	})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	center, err := queryLocation(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	radius, err := queryFloat(r, "radius", false, 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	reports, err := s.svc.Reports.Nearby(center, radius, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(reports))
}

func (s *Server) handleFiresNearby(w http.ResponseWriter, r *http.Request) {
	center, err := queryLocation(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	radius, err := queryFloat(r, "radius", false, defaultFireRadiusKm)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if radius <= 0 || radius > maxFireRadiusKm {
		writeError(w, s.logger, &domain.ValidationError{Field: "radius", Reason: "must be in (0, 1000] km"})
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(s.svc.Fires.Nearby(center, radius)))
}

func (s *Server) handleFiresByState(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if state == "" {
		writeError(w, s.logger, &domain.MissingParameterError{Param: "state"})
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(s.svc.Fires.ByState(state)))
}

// handleFireHistory lists every retained detection of one site, given either
// its sub-cell hash or a point inside it.
func (s *Server) handleFireHistory(w http.ResponseWriter, r *http.Request) {
	site := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("site")))
	if site == "" {
		if !r.URL.Query().Has("lat") && !r.URL.Query().Has("lng") {
			writeError(w, s.logger, &domain.MissingParameterError{Param: "site"})
			return
		}
		loc, err := queryLocation(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		site = spatial.KeyOfLocation(loc).SubCell
	}
	if len(site) != spatial.SubCellPrecision {
		writeError(w, s.logger, &domain.ValidationError{Field: "site", Reason: fmt.Sprintf("must be a %d character geohash", spatial.SubCellPrecision)})
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(s.svc.Fires.History(site)))
}

type analyzeRequest struct {
	Location     *domain.Location `json:"location"`
	AnalysisType string           `json:"analysisType"`
}

type analyzeResponse struct {
	Success      bool            `json:"success"`
	Analysis     domain.Findings `json:"analysis"`
	Confidence   float64         `json:"confidence"`
	AnalysisType string          `json:"analysisType"`
	Location     domain.Location `json:"location"`
	AssessedAt   time.Time       `json:"assessedAt"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Location == nil {
		writeError(w, s.logger, &domain.MissingParameterError{Param: "location"})
		return
	}
	ra, err := s.svc.Risk.Assess(r.Context(), *req.Location, req.AnalysisType)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Success:      true,
		Analysis:     ra.Findings,
		Confidence:   ra.Confidence,
		AnalysisType: ra.AnalysisType,
		Location:     ra.Location,
		AssessedAt:   ra.AssessedAt,
	})
}

type weatherMetadata struct {
	UserLocation domain.Location          `json:"userLocation"`
	Stale        bool                     `json:"stale"`
	Warning      *domain.StaleDataWarning `json:"warning,omitempty"`
}

type weatherResponse struct {
	Success  bool                   `json:"success"`
	Weather  domain.WeatherSnapshot `json:"weather"`
	Metadata weatherMetadata        `json:"metadata"`
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	loc, err := queryLocation(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	snap, err := s.svc.Weather.Current(r.Context(), &loc)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{
		Success: true,
		Weather: snap,
		Metadata: weatherMetadata{
			UserLocation: loc,
			Stale:        snap.Stale,
			Warning:      snap.Warning,
		},
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	center, err := queryLocation(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	radius, err := queryFloat(r, "radius", false, 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	alerts, err := s.svc.Alerts.Current(center, radius)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(alerts))
}

type crisisStateResponse struct {
	Success      bool               `json:"success"`
	PartitionKey string             `json:"partitionKey"`
	State        domain.CrisisState `json:"state"`
}

func (s *Server) handleCrisisState(w http.ResponseWriter, r *http.Request) {
	loc, err := queryLocation(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	key := spatial.KeyOfLocation(loc)
	writeJSON(w, http.StatusOK, crisisStateResponse{
		Success:      true,
		PartitionKey: key.String(),
		State:        s.svc.Crisis.State(key.Cell),
	})
}

type crisisStatesResponse struct {
	Success bool                 `json:"success"`
	States  []domain.CrisisState `json:"states"`
}

// handleCrisisStates lists tracked partitions, optionally filtered by level.
func (s *Server) handleCrisisStates(w http.ResponseWriter, r *http.Request) {
	level := domain.CrisisLevel(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state"))))
	switch level {
	case "", domain.LevelNormal, domain.LevelElevated, domain.LevelCrisis:
	default:
		writeError(w, s.logger, &domain.ValidationError{Field: "state", Reason: "must be normal, elevated, or crisis"})
		return
	}
	states := s.svc.Crisis.States()
	if level != "" {
		kept := states[:0]
		for _, st := range states {
			if st.Level == level {
				kept = append(kept, st)
			}
		}
		states = kept
	}
	writeJSON(w, http.StatusOK, crisisStatesResponse{Success: true, States: orEmpty(states)})
}

type familyGroupRequest struct {
	Data *domain.FamilyGroup `json:"data"`
}

type familyGroupResponse struct {
	Success   bool               `json:"success"`
	GroupCode string             `json:"groupCode,omitempty"`
	Message   string             `json:"message,omitempty"`
	Data      domain.FamilyGroup `json:"data"`
}

func (s *Server) handleSaveFamilyGroup(w http.ResponseWriter, r *http.Request) {
	var req familyGroupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Data == nil {
		writeError(w, s.logger, &domain.MissingParameterError{Param: "data"})
		return
	}
	g, err := s.svc.Family.Save(r.Context(), chi.URLParam(r, "groupCode"), *req.Data)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, familyGroupResponse{
		Success:   true,
		GroupCode: g.GroupCode,
		Message:   "Family group saved",
		Data:      g,
	})
}

func (s *Server) handleGetFamilyGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.Family.Get(r.Context(), chi.URLParam(r, "groupCode"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, familyGroupResponse{Success: true, GroupCode: g.GroupCode, Data: g})
}
