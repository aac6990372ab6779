// Package features turns brew observations and prediction requests into
// fixed-order numeric vectors.
//
// A Schema is captured at training time and stored with the model. Every
// inference request must be encoded against that exact schema: one-hot
// columns the request does not produce are zero, columns the schema does
// not know are dropped, and the output order is the schema order.
package features

import (
	"slices"
	"time"

	"brewcast/internal/types"
)

// Column name prefixes for one-hot groups.
const (
	WeatherPrefix = "weather_"
	OriginPrefix  = "origin_"
)

// Numeric columns, in schema order.
const (
	ColTemperature = "temperature"
	ColHumidity    = "humidity"
	ColYear        = "year"
	ColMonth       = "month"
	ColDay         = "day"
	ColDayOfWeek   = "day_of_week"
	ColDaysPassed  = "days_passed"
)

// Target columns, in output order.
const (
	TargetMesh           = "mesh"
	TargetGram           = "gram"
	TargetExtractionTime = "extraction_time"
)

// NumericColumns is the fixed prefix of every schema.
var NumericColumns = []string{
	ColTemperature,
	ColHumidity,
	ColYear,
	ColMonth,
	ColDay,
	ColDayOfWeek,
	ColDaysPassed,
}

// TargetNames lists the regression outputs.
var TargetNames = []string{TargetMesh, TargetGram, TargetExtractionTime}

// CategoricalColumns are the raw fields expanded into one-hot groups.
var CategoricalColumns = []string{"weather", "origin"}

// Schema is the ordered feature layout a model was trained with.
type Schema struct {
	FeatureNames       []string  `json:"feature_names"`
	TargetNames        []string  `json:"target_names"`
	CategoricalColumns []string  `json:"categorical_columns"`
	NumericalColumns   []string  `json:"numerical_columns"`
	DataSource         string    `json:"data_source,omitempty"`
	BeanName           string    `json:"bean_name,omitempty"`
	TrainingDate       time.Time `json:"training_date"`
	SampleCount        int       `json:"sample_count"`
}

// Len returns the number of feature columns.
func (s Schema) Len() int {
	return len(s.FeatureNames)
}

// Index returns the position of a column, or -1.
func (s Schema) Index(name string) int {
	return slices.Index(s.FeatureNames, name)
}

// BuildSchema derives the schema from training observations: numeric
// columns first, then sorted weather indicators, then sorted origin
// indicators. Blank origins produce no indicator.
func BuildSchema(obs []types.BrewObservation) Schema {
	weathers := make(map[string]struct{})
	origins := make(map[string]struct{})
	for _, o := range obs {
		if w := string(o.Weather); w != "" {
			weathers[w] = struct{}{}
		}
		if o.BeanOrigin != "" {
			origins[o.BeanOrigin] = struct{}{}
		}
	}

	names := slices.Clone(NumericColumns)
	names = append(names, prefixedSorted(WeatherPrefix, weathers)...)
	names = append(names, prefixedSorted(OriginPrefix, origins)...)

	return Schema{
		FeatureNames:       names,
		TargetNames:        slices.Clone(TargetNames),
		CategoricalColumns: slices.Clone(CategoricalColumns),
		NumericalColumns:   slices.Clone(NumericColumns),
		SampleCount:        len(obs),
	}
}

func prefixedSorted(prefix string, set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, prefix+v)
	}
	slices.Sort(out)
	return out
}
