package gormstore

import (
	"time"

	"brewcast/internal/types"
)

// UserRow maps the users table.
type UserRow struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name     string `gorm:"column:name;size:100;not null"`
	Email    string `gorm:"column:email;size:100;not null;uniqueIndex"`
	Password string `gorm:"column:password;size:255;not null"`
	Role     string `gorm:"column:role;size:20;not null;default:ROLE_USER"`
}

func (UserRow) TableName() string { return "users" }

// BeanRow maps the beans table.
type BeanRow struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       int64   `gorm:"column:user_id;not null;index"`
	User         UserRow `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Name         string  `gorm:"column:name;size:100;not null;index"`
	FromLocation string  `gorm:"column:from_location;size:100;not null"`
}

func (BeanRow) TableName() string { return "beans" }

// RecipeRow maps the recipe table. Sensor readings are nullable.
type RecipeRow struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	BeanID         int64     `gorm:"column:bean_id;not null;index"`
	Bean           BeanRow   `gorm:"foreignKey:BeanID;constraint:OnDelete:CASCADE"`
	Date           time.Time `gorm:"column:date;type:date;not null"`
	Weather        string    `gorm:"column:weather;size:50;not null"`
	Temperature    *float64  `gorm:"column:temperature"`
	Humidity       *float64  `gorm:"column:humidity"`
	DaysPassed     *float64  `gorm:"column:days_passed"`
	Gram           float64   `gorm:"column:gram;not null"`
	Mesh           float64   `gorm:"column:mesh;not null"`
	ExtractionTime float64   `gorm:"column:extraction_time;not null"`
}

func (RecipeRow) TableName() string { return "recipe" }

// observationRow is the result shape of the recipe/bean join.
type observationRow struct {
	RecipeID       int64
	BeanID         int64
	BeanName       string
	BeanOrigin     string
	Date           time.Time
	Weather        string
	Temperature    *float64
	Humidity       *float64
	DaysPassed     *float64
	Mesh           float64
	Gram           float64
	ExtractionTime float64
}

func (r observationRow) toDomain() types.BrewObservation {
	return types.BrewObservation{
		RecipeID:       r.RecipeID,
		BeanID:         r.BeanID,
		BeanName:       r.BeanName,
		BeanOrigin:     r.BeanOrigin,
		Date:           r.Date,
		Weather:        types.ParseWeather(r.Weather),
		Temperature:    orDefault(r.Temperature, types.DefaultTemperature),
		Humidity:       orDefault(r.Humidity, types.DefaultHumidity),
		DaysPassed:     orDefault(r.DaysPassed, types.DefaultDaysPassed),
		Mesh:           r.Mesh,
		Gram:           r.Gram,
		ExtractionTime: r.ExtractionTime,
	}
}

type beanListRow struct {
	ID           int64
	UserID       int64
	Name         string
	FromLocation string
	UserName     string
	RecipeCount  int
}

func (r beanListRow) toDomain() types.Bean {
	return types.Bean{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		Origin:      r.FromLocation,
		UserName:    r.UserName,
		RecipeCount: r.RecipeCount,
	}
}

func recipeRowFromDomain(r types.Recipe) RecipeRow {
	return RecipeRow{
		BeanID:         r.BeanID,
		Date:           r.Date.UTC().Truncate(24 * time.Hour),
		Weather:        string(r.Weather),
		Temperature:    &r.Temperature,
		Humidity:       &r.Humidity,
		DaysPassed:     &r.DaysPassed,
		Gram:           r.Gram,
		Mesh:           r.Mesh,
		ExtractionTime: r.ExtractionTime,
	}
}

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
