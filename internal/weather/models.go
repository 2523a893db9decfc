package weather

import (
	"fmt"
	"strings"
	"time"
)

// SourceTimeLayout is the canonical text form of a source-reported update timestamp.
// It is the form persisted in History and the one uniqueness is enforced on.
const SourceTimeLayout = "2006-01-02 15:04:05"

// DateLayout is the calendar date layout used for rollup buckets.
const DateLayout = "2006-01-02"

// sourceLayouts are the accepted forms of current.last_updated, tried in order.
var sourceLayouts = []string{
	"2006-01-02 15:04",
	SourceTimeLayout,
	time.RFC3339,
}

// Target is a configured city to collect observations for.
type Target struct {
	City string `json:"city"`
}

// Key returns a canonical string key for indexing this target in stores and logs.
func (t Target) Key() string {
	return strings.TrimSpace(t.City)
}

// SourcePayload is the decoded shape of a current-conditions response.
// Validation tags drive the coordinator's skip/warn decisions.
type SourcePayload struct {
	Location struct {
		Name    string `json:"name"`
		Region  string `json:"region"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		LastUpdated string  `json:"last_updated" validate:"required"`
		TempC       float64 `json:"temp_c"`
		Humidity    float64 `json:"humidity" validate:"gte=0,lte=100"`
		WindKph     float64 `json:"wind_kph"`
		Condition   struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

// ObservationRecord is one immutable History row.
// (City, SourceUpdatedAt) is unique across History.
type ObservationRecord struct {
	City            string    `json:"city"`
	Region          string    `json:"region"`
	Country         string    `json:"country"`
	TemperatureC    float64   `json:"temperatureC"`
	Humidity        float64   `json:"humidity"`
	WindKph         float64   `json:"windKph"`
	Condition       string    `json:"condition"`
	SourceUpdatedAt time.Time `json:"sourceUpdatedAt"` // wall clock as reported by the source
	IngestedAt      time.Time `json:"ingestedAt"`      // always UTC
}

// CurrentSnapshot is the latest-known observation for a city. One per city.
type CurrentSnapshot struct {
	ObservationRecord
}

// HourlySummary aggregates History rows sharing a city, date and hour of SourceUpdatedAt.
type HourlySummary struct {
	City           string  `json:"city"`
	Date           string  `json:"date"`
	Hour           int     `json:"hour"`
	AvgTemperature float64 `json:"avgTemperature"`
	MinTemperature float64 `json:"minTemperature"`
	MaxTemperature float64 `json:"maxTemperature"`
	AvgHumidity    float64 `json:"avgHumidity"`
	RecordCount    int     `json:"recordCount"`
}

// DailySummary aggregates History rows sharing a city and date of SourceUpdatedAt.
type DailySummary struct {
	City           string  `json:"city"`
	Date           string  `json:"date"`
	AvgTemperature float64 `json:"avgTemperature"`
	MinTemperature float64 `json:"minTemperature"`
	MaxTemperature float64 `json:"maxTemperature"`
	AvgHumidity    float64 `json:"avgHumidity"`
	RecordCount    int     `json:"recordCount"`
}

// AnomalyRecord is one row of the day-over-day analysis for a city.
// Nil pointers mean the value is undefined, never zero.
type AnomalyRecord struct {
	City           string   `json:"city"`
	Date           string   `json:"date"`
	AvgTemperature float64  `json:"avgTemperature"`
	TempChange     *float64 `json:"tempChange"`
	ZScore         *float64 `json:"zScore"`
	IsAnomaly      bool     `json:"isAnomaly"`
	Severity       *float64 `json:"severity"`
}

// ParseSourceTime parses a source-reported update timestamp in any accepted layout.
// The result keeps the reported wall clock; no zone conversion is applied beyond RFC3339 offsets.
func ParseSourceTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty last_updated", ErrMalformedResponse)
	}
	for _, layout := range sourceLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable last_updated %q", ErrMalformedResponse, s)
}

// BucketDate returns the calendar date bucket of the record.
func (r ObservationRecord) BucketDate() string {
	return r.SourceUpdatedAt.Format(DateLayout)
}

// BucketHour returns the hour-of-day bucket of the record.
func (r ObservationRecord) BucketHour() int {
	return r.SourceUpdatedAt.Hour()
}
