package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brewcast/internal/types"
)

// Missing sensor readings are filled with the same defaults applied to
// prediction requests.
var observationSelect = fmt.Sprintf(`SELECT r.id, b.id, b.name, b.from_location, r.date, r.weather,
	COALESCE(r.temperature, %g), COALESCE(r.humidity, %g), COALESCE(r.days_passed, %g),
	r.mesh, r.gram, r.extraction_time
	FROM recipe r
	JOIN beans b ON r.bean_id = b.id`,
	types.DefaultTemperature, types.DefaultHumidity, types.DefaultDaysPassed)

// ListObservations returns the brew logs of the named bean ordered by date.
// The global key, or an empty name, returns every observation.
func (s *Store) ListObservations(ctx context.Context, beanName string) ([]types.BrewObservation, error) {
	query := observationSelect
	var args []any
	if beanName != "" && beanName != types.GlobalModelKey {
		query += ` WHERE b.name = $1`
		args = append(args, beanName)
	}
	query += ` ORDER BY r.date, r.id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError("list observations", err)
	}
	defer rows.Close()

	var out []types.BrewObservation
	for rows.Next() {
		var (
			o       types.BrewObservation
			weather string
		)
		if err := rows.Scan(&o.RecipeID, &o.BeanID, &o.BeanName, &o.BeanOrigin, &o.Date, &weather,
			&o.Temperature, &o.Humidity, &o.DaysPassed, &o.Mesh, &o.Gram, &o.ExtractionTime); err != nil {
			return nil, dbError("scan observation", err)
		}
		o.Weather = types.ParseWeather(weather)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate observations", err)
	}
	return out, nil
}

// BeanNamesWithData returns the distinct names of beans that have at least
// one recipe.
func (s *Store) BeanNamesWithData(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT b.name FROM beans b
		JOIN recipe r ON r.bean_id = b.id
		ORDER BY b.name`)
	if err != nil {
		return nil, dbError("list beans with data", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dbError("scan bean name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate bean names", err)
	}
	return names, nil
}

const recipeInsertChunk = 500

// InsertRecipes bulk-inserts recipes and returns how many rows were written.
func (s *Store) InsertRecipes(ctx context.Context, recipes []types.Recipe) (int, error) {
	written := 0
	for start := 0; start < len(recipes); start += recipeInsertChunk {
		end := min(start+recipeInsertChunk, len(recipes))
		chunk := recipes[start:end]

		var (
			sb   strings.Builder
			args = make([]any, 0, len(chunk)*9)
		)
		sb.WriteString(`INSERT INTO recipe (bean_id, date, weather, temperature, humidity, days_passed, gram, mesh, extraction_time) VALUES `)
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 9
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
			args = append(args, r.BeanID, r.Date.UTC().Truncate(24*time.Hour), string(r.Weather),
				r.Temperature, r.Humidity, r.DaysPassed, r.Gram, r.Mesh, r.ExtractionTime)
		}

		tag, err := s.db.Exec(ctx, sb.String(), args...)
		if err != nil {
			return written, dbError("insert recipes", err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}
