package domain

import "time"

// WeatherSnapshot is a point observation for a location bucket.
type WeatherSnapshot struct {
	Location    Location  `json:"location"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`

	FetchedAt time.Time         `json:"-"`
	Stale     bool              `json:"stale"`
	Warning   *StaleDataWarning `json:"warning,omitempty"`
}
