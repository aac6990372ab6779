package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Default feature values applied when a request omits the numeric field.
const (
	DefaultTemperature = 20.0
	DefaultHumidity    = 60.0
	DefaultDaysPassed  = 15.0
)

// GlobalModelKey names the model trained over every bean's observations.
const GlobalModelKey = "global"

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// Weather is the weather category recorded with a brew.
type Weather string

const (
	WeatherClear  Weather = "Clear"
	WeatherCloudy Weather = "Cloudy"
	WeatherRain   Weather = "Rain"
	WeatherSnow   Weather = "Snow"
)

// weatherAliases maps lowercased labels (including the Japanese labels used
// in the historical brew logs) to their canonical category.
var weatherAliases = map[string]Weather{
	"clear": WeatherClear,
	"sunny": WeatherClear,
	"晴れ":    WeatherClear,

	"cloudy": WeatherCloudy,
	"clouds": WeatherCloudy,
	"mist":   WeatherCloudy,
	"fog":    WeatherCloudy,
	"haze":   WeatherCloudy,
	"曇り":     WeatherCloudy,

	"rain":         WeatherRain,
	"rainy":        WeatherRain,
	"drizzle":      WeatherRain,
	"thunderstorm": WeatherRain,
	"雨":            WeatherRain,

	"snow":  WeatherSnow,
	"snowy": WeatherSnow,
	"雪":     WeatherSnow,
}

// ParseWeather normalizes a weather label. Unknown labels are returned
// trimmed but otherwise unchanged so the encoder can treat them as an
// unseen category.
func ParseWeather(s string) Weather {
	trimmed := strings.TrimSpace(s)
	if w, ok := weatherAliases[strings.ToLower(trimmed)]; ok {
		return w
	}
	return Weather(trimmed)
}

// Known reports whether w is one of the four canonical categories.
func (w Weather) Known() bool {
	switch w {
	case WeatherClear, WeatherCloudy, WeatherRain, WeatherSnow:
		return true
	}
	return false
}

// BrewObservation is one historical brew log row joined with its bean.
type BrewObservation struct {
	RecipeID       int64     `json:"recipe_id"`
	BeanID         int64     `json:"bean_id"`
	BeanName       string    `json:"bean_name"`
	BeanOrigin     string    `json:"bean_origin"`
	Date           time.Time `json:"date"`
	Weather        Weather   `json:"weather"`
	Temperature    float64   `json:"temperature"`
	Humidity       float64   `json:"humidity"`
	DaysPassed     float64   `json:"days_passed"`
	Mesh           float64   `json:"mesh"`
	Gram           float64   `json:"gram"`
	ExtractionTime float64   `json:"extraction_time"`
}

// RequestDate is a calendar day accepted either as "YYYY-MM-DD" or as an
// object {"day":15,"month":3,"year":2025}.
type RequestDate struct {
	time.Time
}

type dateParts struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewRequestDate builds a RequestDate at midnight UTC.
func NewRequestDate(year int, month time.Month, day int) RequestDate {
	return RequestDate{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// UnmarshalJSON implements json.Unmarshaler. Malformed dates are reported
// as validation_invalid_date.
func (d *RequestDate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	t, err := parseRequestDate(data)
	if err != nil {
		return NewAppError(ErrCodeValidationInvalidDate, err.Error(), err)
	}
	d.Time = t
	return nil
}

func parseRequestDate(data []byte) (time.Time, error) {
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(DateLayout, strings.TrimSpace(s))
		if err != nil {
			return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD, got %q", s)
		}
		return t, nil
	}

	var p dateParts
	if err := json.Unmarshal(data, &p); err != nil {
		return time.Time{}, fmt.Errorf("date must be a string or {day,month,year}")
	}
	if p.Year < 1 || p.Month < 1 || p.Month > 12 || p.Day < 1 {
		return time.Time{}, fmt.Errorf("date parts out of range: %d-%d-%d", p.Year, p.Month, p.Day)
	}
	t := time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, time.UTC)
	if t.Day() != p.Day {
		return time.Time{}, fmt.Errorf("invalid calendar day: %d-%02d-%02d", p.Year, p.Month, p.Day)
	}
	return t, nil
}

// MarshalJSON renders the date as "YYYY-MM-DD".
func (d RequestDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

// PredictionRequest carries the brewing conditions to predict for.
// Nil numeric fields fall back to the Default* constants.
type PredictionRequest struct {
	BeanName    string      `json:"bean_name,omitempty" validate:"omitempty,max=255"`
	BeanOrigin  string      `json:"bean_origin,omitempty" validate:"omitempty,max=255"`
	Date        RequestDate `json:"date"`
	Weather     string      `json:"weather" validate:"notblank,max=64"`
	Temperature *float64    `json:"temperature,omitempty" validate:"omitempty,gte=-50,lte=60"`
	Humidity    *float64    `json:"humidity,omitempty" validate:"omitempty,gte=0,lte=100"`
	DaysPassed  *float64    `json:"days_passed,omitempty" validate:"omitempty,gte=0"`
}

// ModelKey returns the registry key the request resolves to.
func (r PredictionRequest) ModelKey() string {
	if name := strings.TrimSpace(r.BeanName); name != "" {
		return name
	}
	return GlobalModelKey
}

// TemperatureOrDefault returns the temperature or DefaultTemperature.
func (r PredictionRequest) TemperatureOrDefault() float64 {
	return valueOr(r.Temperature, DefaultTemperature)
}

// HumidityOrDefault returns the humidity or DefaultHumidity.
func (r PredictionRequest) HumidityOrDefault() float64 {
	return valueOr(r.Humidity, DefaultHumidity)
}

// DaysPassedOrDefault returns days since roast or DefaultDaysPassed.
func (r PredictionRequest) DaysPassedOrDefault() float64 {
	return valueOr(r.DaysPassed, DefaultDaysPassed)
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// PredictionResult holds the predicted brew parameters.
// Confidence is omitted for models that do not report one.
type PredictionResult struct {
	Mesh           float64  `json:"mesh"`
	Gram           float64  `json:"gram"`
	ExtractionTime float64  `json:"extraction_time"`
	Confidence     *float64 `json:"confidence,omitempty"`
	ModelKey       string   `json:"model_key"`
	ModelID        string   `json:"model_id,omitempty"`
	SampleCount    int      `json:"sample_count,omitempty"`
}

// BatchPredictionRequest is the body of the batch prediction endpoint. It
// decodes from either a bare array of requests or {"requests":[...]}.
type BatchPredictionRequest struct {
	Requests []PredictionRequest `json:"requests" validate:"required,min=1,max=100,dive"`
}

type batchEnvelope struct {
	Requests []PredictionRequest `json:"requests"`
}

// UnmarshalJSON implements json.Unmarshaler. Unknown fields are rejected in
// both shapes.
func (b *BatchPredictionRequest) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if data[0] == '[' {
		var reqs []PredictionRequest
		if err := dec.Decode(&reqs); err != nil {
			return err
		}
		b.Requests = reqs
		return nil
	}

	var env batchEnvelope
	if err := dec.Decode(&env); err != nil {
		return err
	}
	b.Requests = env.Requests
	return nil
}

// BatchItemError describes why a single batch item failed.
type BatchItemError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// BatchItemResult echoes one batch request alongside its outcome. Exactly
// one of Result and Error is set.
type BatchItemResult struct {
	Index       int               `json:"index"`
	BeanName    string            `json:"bean_name,omitempty"`
	BeanOrigin  string            `json:"bean_origin,omitempty"`
	Date        RequestDate       `json:"date"`
	Weather     string            `json:"weather"`
	Temperature float64           `json:"temperature"`
	Humidity    float64           `json:"humidity"`
	DaysPassed  float64           `json:"days_passed"`
	Result      *PredictionResult `json:"result,omitempty"`
	Error       *BatchItemError   `json:"error,omitempty"`
}

// BatchPredictionResult is the response of the batch prediction endpoint.
type BatchPredictionResult struct {
	Predictions []BatchItemResult `json:"predictions"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
}

// User owns beans. The password hash never leaves the store layer.
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

// Bean is a coffee bean registered by a user.
type Bean struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	Origin      string `json:"origin"`
	UserName    string `json:"user_name,omitempty"`
	RecipeCount int    `json:"recipe_count"`
}

// Recipe is one brew log row as stored.
type Recipe struct {
	ID             int64     `json:"id"`
	BeanID         int64     `json:"bean_id"`
	Date           time.Time `json:"date"`
	Weather        Weather   `json:"weather"`
	Temperature    float64   `json:"temperature"`
	Humidity       float64   `json:"humidity"`
	DaysPassed     float64   `json:"days_passed"`
	Mesh           float64   `json:"mesh"`
	Gram           float64   `json:"gram"`
	ExtractionTime float64   `json:"extraction_time"`
}

// DatabaseStats summarizes the backing store.
type DatabaseStats struct {
	Users         int `json:"users"`
	Beans         int `json:"beans"`
	Recipes       int `json:"recipes"`
	BeansWithData int `json:"beans_with_data"`
}

// WeatherReading is the current weather at the configured location.
type WeatherReading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	Weather     Weather   `json:"weather"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Source      string    `json:"source"`
	ObservedAt  time.Time `json:"observed_at"`
}
