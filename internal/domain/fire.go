package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawEvent is an unprocessed message from the fire feed topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// FireRecord is the flat, string-valued JSON produced from a FIRMS CSV row.
type FireRecord struct {
	Latitude   string `json:"latitude"`
	Longitude  string `json:"longitude"`
	Brightness string `json:"brightness"`
	Scan       string `json:"scan"`
	Track      string `json:"track"`
	AcqDate    string `json:"acq_date"`
	AcqTime    string `json:"acq_time"`
	Satellite  string `json:"satellite"`
	Instrument string `json:"instrument"`
	Confidence string `json:"confidence"`
	FRP        string `json:"frp"`
	DayNight   string `json:"daynight"`
	State      string `json:"state,omitempty"`
}

// FireDetection is a single satellite hotspot. Detections are immutable;
// a newer detection at the same site supersedes an older one without replacing it.
type FireDetection struct {
	ID         string       `json:"id"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Confidence string       `json:"confidence"`
	AcqDate    string       `json:"acq_date"`
	AcqTime    string       `json:"acq_time"`
	Brightness float64      `json:"brightness"`
	Scan       float64      `json:"scan"`
	Track      float64      `json:"track"`
	Satellite  string       `json:"satellite"`
	Instrument string       `json:"instrument,omitempty"`
	FRP        float64      `json:"frp,omitempty"`
	DayNight   string       `json:"daynight,omitempty"`
	State      string       `json:"state,omitempty"`
	Partition  PartitionKey `json:"partitionKey"`
	AcquiredAt time.Time    `json:"acquiredAt"`
	IngestedAt time.Time    `json:"ingestedAt"`
}

// Location returns the detection coordinates.
func (d FireDetection) Location() Location {
	return Location{Lat: d.Latitude, Lng: d.Longitude}
}

// Site is the identity shared by detections of the same hotspot.
func (d FireDetection) Site() string {
	return d.Partition.SubCell
}

// AssignPartition sets the partition key and derives the detection ID from it.
func (d *FireDetection) AssignPartition(k PartitionKey) {
	d.Partition = k
	d.ID = detectionID(k.SubCell, d.AcqDate, d.AcqTime, d.Satellite)
}

// ParseFireRecord decodes a feed message into a detection. The partition key
// and ID are not set; see AssignPartition.
func ParseFireRecord(raw RawEvent) (FireDetection, error) {
	var rec FireRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return FireDetection{}, fmt.Errorf("parse fire record: %w", err)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(rec.Latitude), 64)
	if err != nil {
		return FireDetection{}, fmt.Errorf("parse fire record: latitude %q: %w", rec.Latitude, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(rec.Longitude), 64)
	if err != nil {
		return FireDetection{}, fmt.Errorf("parse fire record: longitude %q: %w", rec.Longitude, err)
	}
	if err := (Location{Lat: lat, Lng: lng}).Validate(); err != nil {
		return FireDetection{}, fmt.Errorf("parse fire record: %w", err)
	}

	acqDate, err := time.Parse("2006-01-02", strings.TrimSpace(rec.AcqDate))
	if err != nil {
		return FireDetection{}, fmt.Errorf("parse fire record: acq_date %q: %w", rec.AcqDate, err)
	}

	return FireDetection{
		Latitude:   lat,
		Longitude:  lng,
		Confidence: strings.TrimSpace(rec.Confidence),
		AcqDate:    strings.TrimSpace(rec.AcqDate),
		AcqTime:    normalizeHHMM(rec.AcqTime),
		Brightness: parseFloatOrZero(rec.Brightness),
		Scan:       parseFloatOrZero(rec.Scan),
		Track:      parseFloatOrZero(rec.Track),
		Satellite:  strings.TrimSpace(rec.Satellite),
		Instrument: strings.TrimSpace(rec.Instrument),
		FRP:        parseFloatOrZero(rec.FRP),
		DayNight:   strings.TrimSpace(rec.DayNight),
		State:      strings.TrimSpace(rec.State),
		AcquiredAt: parseHHMM(acqDate, rec.AcqTime),
		IngestedAt: clock.Now().UTC(),
	}, nil
}

// ConfidenceClass buckets a sensor confidence value.
type ConfidenceClass string

const (
	ConfidenceLow     ConfidenceClass = "low"
	ConfidenceNominal ConfidenceClass = "nominal"
	ConfidenceHigh    ConfidenceClass = "high"
)

// ConfidenceClass interprets the raw confidence: VIIRS letters or a MODIS percentage.
func (d FireDetection) ConfidenceClass() ConfidenceClass {
	c := strings.ToLower(strings.TrimSpace(d.Confidence))
	switch c {
	case "h", "high":
		return ConfidenceHigh
	case "n", "nominal":
		return ConfidenceNominal
	case "l", "low", "":
		return ConfidenceLow
	}
	v, err := strconv.ParseFloat(c, 64)
	if err != nil {
		return ConfidenceLow
	}
	switch {
	case v >= 80:
		return ConfidenceHigh
	case v >= 30:
		return ConfidenceNominal
	}
	return ConfidenceLow
}

// Weight is the crisis score contribution of a detection in this class.
func (c ConfidenceClass) Weight() float64 {
	switch c {
	case ConfidenceHigh:
		return 4
	case ConfidenceNominal:
		return 2
	}
	return 1
}

// Score maps the class onto [0,1] for risk fusion.
func (c ConfidenceClass) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceNominal:
		return 0.6
	}
	return 0.3
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func normalizeHHMM(hhmm string) string {
	hhmm = strings.TrimSpace(hhmm)
	for len(hhmm) > 0 && len(hhmm) < 4 {
		hhmm = "0" + hhmm
	}
	return hhmm
}

// parseHHMM combines a date with an HHMM time string ("930" and "0930" are 09:30 UTC).
// Unparseable times fall back to midnight.
func parseHHMM(date time.Time, hhmm string) time.Time {
	hhmm = normalizeHHMM(hhmm)
	if len(hhmm) != 4 {
		return date
	}
	hour, errH := strconv.Atoi(hhmm[:2])
	mins, errM := strconv.Atoi(hhmm[2:])
	if errH != nil || errM != nil || hour > 23 || mins > 59 || hour < 0 || mins < 0 {
		return date
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, mins, 0, 0, time.UTC)
}

func detectionID(site, acqDate, acqTime, satellite string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", site, acqDate, acqTime, satellite)))
	return hex.EncodeToString(sum[:])
}
