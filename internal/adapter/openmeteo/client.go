// Package openmeteo implements weather.Provider using the Open-Meteo forecast API.
package openmeteo

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Client fetches current conditions for a point.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates an Open-Meteo client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger: logger.With("component", "resty")})

	return &Client{http: client, logger: logger}
}

// restyLogger routes resty's retry and debug output through slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Current implements weather.Provider.
func (c *Client) Current(ctx context.Context, loc domain.Location) (domain.WeatherSnapshot, error) {
	var body forecastResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":        strconv.FormatFloat(loc.Lat, 'f', 4, 64),
			"longitude":       strconv.FormatFloat(loc.Lng, 'f', 4, 64),
			"current":         "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code",
			"wind_speed_unit": "kmh",
			"timezone":        "GMT",
		}).
		SetResult(&body).
		Get("/v1/forecast")
	if err != nil {
		return domain.WeatherSnapshot{}, fmt.Errorf("open-meteo request: %w", err)
	}
	if resp.IsError() {
		return domain.WeatherSnapshot{}, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode(), resp.String())
	}
	if body.Current == nil {
		return domain.WeatherSnapshot{}, fmt.Errorf("open-meteo response has no current block")
	}

	cur := body.Current
	c.logger.Debug("weather fetched", "lat", loc.Lat, "lng", loc.Lng, "code", cur.WeatherCode)
	return domain.WeatherSnapshot{
		Location:    loc,
		Temperature: cur.Temperature,
		Humidity:    cur.Humidity,
		WindSpeed:   cur.WindSpeed,
		Description: Describe(cur.WeatherCode),
		Timestamp:   parseTime(cur.Time),
	}, nil
}

// Open-Meteo API response types.

type forecastResponse struct {
	Current *current `json:"current"`
}

type current struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature_2m"`
	Humidity    float64 `json:"relative_humidity_2m"`
	WindSpeed   float64 `json:"wind_speed_10m"`
	WeatherCode int     `json:"weather_code"`
}

// parseTime reads the API's minute-resolution ISO timestamps. A zero time
// lets the cache stamp the snapshot with the fetch time.
func parseTime(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Describe maps a WMO weather interpretation code to text.
func Describe(code int) string {
	switch code {
	case 0:
		return "Clear sky"
	case 1:
		return "Mainly clear"
	case 2:
		return "Partly cloudy"
	case 3:
		return "Overcast"
	case 45, 48:
		return "Fog"
	case 51, 53, 55:
		return "Drizzle"
	case 56, 57:
		return "Freezing drizzle"
	case 61, 63, 65:
		return "Rain"
	case 66, 67:
		return "Freezing rain"
	case 71, 73, 75, 77:
		return "Snow"
	case 80, 81, 82:
		return "Rain showers"
	case 85, 86:
		return "Snow showers"
	case 95:
		return "Thunderstorm"
	case 96, 99:
		return "Thunderstorm with hail"
	}
	return "Unknown"
}
