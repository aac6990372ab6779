package features

import (
	"fmt"
	"strings"
	"time"

	"brewcast/internal/types"
)

// Vector is one encoded feature row in schema order.
type Vector []float64

// SchemaMismatchError reports that an encoded row cannot be aligned to the
// schema. Column is set when a schema column is neither numeric nor a known
// one-hot group.
type SchemaMismatchError struct {
	Column string
	Got    int
	Want   int
}

func (e *SchemaMismatchError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema column %q cannot be produced by the encoder", e.Column)
	}
	return fmt.Sprintf("encoded vector has %d columns, schema expects %d", e.Got, e.Want)
}

// row is the raw, pre-alignment form shared by requests and observations.
type row struct {
	date        time.Time
	weather     types.Weather
	origin      string
	temperature float64
	humidity    float64
	daysPassed  float64
}

// Encode converts a prediction request into a vector aligned to schema.
// Missing numeric fields take their defaults.
func Encode(req types.PredictionRequest, schema Schema) (Vector, error) {
	if req.Date.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidDate, "date is required", nil)
	}
	return encodeRow(row{
		date:        req.Date.Time,
		weather:     types.ParseWeather(req.Weather),
		origin:      strings.TrimSpace(req.BeanOrigin),
		temperature: req.TemperatureOrDefault(),
		humidity:    req.HumidityOrDefault(),
		daysPassed:  req.DaysPassedOrDefault(),
	}, schema)
}

// EncodeObservations builds the design matrix X and target matrix Y for
// training or evaluation against schema.
func EncodeObservations(obs []types.BrewObservation, schema Schema) (X, Y [][]float64, err error) {
	X = make([][]float64, len(obs))
	Y = make([][]float64, len(obs))
	for i, o := range obs {
		vec, err := encodeRow(row{
			date:        o.Date,
			weather:     o.Weather,
			origin:      o.BeanOrigin,
			temperature: o.Temperature,
			humidity:    o.Humidity,
			daysPassed:  o.DaysPassed,
		}, schema)
		if err != nil {
			return nil, nil, fmt.Errorf("observation %d: %w", o.RecipeID, err)
		}
		X[i] = vec
		Y[i] = []float64{o.Mesh, o.Gram, o.ExtractionTime}
	}
	return X, Y, nil
}

func encodeRow(r row, schema Schema) (Vector, error) {
	numeric := map[string]float64{
		ColTemperature: r.temperature,
		ColHumidity:    r.humidity,
		ColYear:        float64(r.date.Year()),
		ColMonth:       float64(r.date.Month()),
		ColDay:         float64(r.date.Day()),
		ColDayOfWeek:   float64(mondayIndex(r.date.Weekday())),
		ColDaysPassed:  r.daysPassed,
	}

	hot := make(map[string]struct{}, 2)
	if r.weather != "" {
		hot[WeatherPrefix+string(r.weather)] = struct{}{}
	}
	if r.origin != "" {
		hot[OriginPrefix+r.origin] = struct{}{}
	}

	vec := make(Vector, 0, schema.Len())
	for _, name := range schema.FeatureNames {
		if v, ok := numeric[name]; ok {
			vec = append(vec, v)
			continue
		}
		if !isIndicator(name) {
			return nil, mismatch(&SchemaMismatchError{Column: name})
		}
		if _, ok := hot[name]; ok {
			vec = append(vec, 1)
		} else {
			vec = append(vec, 0)
		}
	}

	if len(vec) != schema.Len() {
		return nil, mismatch(&SchemaMismatchError{Got: len(vec), Want: schema.Len()})
	}
	return vec, nil
}

func mismatch(err *SchemaMismatchError) error {
	return types.NewAppError(types.ErrCodeInternalSchemaMismatch, err.Error(), err)
}

func isIndicator(name string) bool {
	return strings.HasPrefix(name, WeatherPrefix) || strings.HasPrefix(name, OriginPrefix)
}

// mondayIndex maps Sunday=0 weekdays to Monday=0.
func mondayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
