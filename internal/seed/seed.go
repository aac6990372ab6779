// Package seed loads a reproducible sample dataset: three users, eight
// single-origin beans and a brew log per bean whose extraction parameters
// follow the local weather the way a home barista would adjust them.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/crypto/bcrypt"

	"brewcast/internal/types"
)

// Writer is the store surface the seeder needs. Both the pgx and the gorm
// stores satisfy it.
type Writer interface {
	EnsureSchema(ctx context.Context) error
	Reset(ctx context.Context) error
	CreateUser(ctx context.Context, u *types.User) error
	CreateBean(ctx context.Context, b *types.Bean) error
	InsertRecipes(ctx context.Context, recipes []types.Recipe) (int, error)
}

// Options controls dataset size and reproducibility.
type Options struct {
	RecipesPerBean int
	Seed           uint64
	Password       string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// Reset truncates every table before loading.
	Reset bool
	Now   time.Time
}

// DefaultOptions loads 30 recipes per bean ending today.
func DefaultOptions() Options {
	return Options{
		RecipesPerBean: 30,
		Seed:           42,
		Password:       "password",
		BcryptCost:     bcrypt.DefaultCost,
		Reset:          true,
		Now:            time.Now().UTC(),
	}
}

// Summary reports what was written.
type Summary struct {
	Users   int `json:"users"`
	Beans   int `json:"beans"`
	Recipes int `json:"recipes"`
}

type sampleUser struct {
	name  string
	email string
	role  string
}

type sampleBean struct {
	owner  int
	name   string
	origin string
	// Roast character shifts the baseline grind and dose.
	meshOffset float64
	gramOffset float64
}

var sampleUsers = []sampleUser{
	{"コーヒー愛好家", "coffee.lover@example.com", "ROLE_USER"},
	{"エスプレッソ職人", "espresso.pro@example.com", "ROLE_USER"},
	{"ホームロースター", "home.roaster@example.com", "ROLE_ADMIN"},
}

var sampleBeans = []sampleBean{
	{0, "エチオピア イルガチェフェ", "エチオピア", -0.5, -0.1},
	{0, "グアテマラ アンティグア", "グアテマラ", 0, 0},
	{1, "ブラジル サントス", "ブラジル", 0.5, 0.1},
	{1, "コロンビア スプレモ", "コロンビア", 0.2, 0.05},
	{1, "ケニア AA", "ケニア", -0.3, -0.05},
	{2, "インドネシア マンデリン", "インドネシア", 0.8, 0.2},
	{2, "パナマ ゲイシャ", "パナマ", -0.8, -0.2},
	{2, "タンザニア キリマンジャロ", "タンザニア", 0.1, 0},
}

// Baseline extraction at 20 °C and 60 % humidity.
const (
	baseMesh           = 18.0
	baseGram           = 2.5
	baseExtractionTime = 30.0
)

// Run creates the schema and loads the sample dataset.
func Run(ctx context.Context, w Writer, opts Options, logger *slog.Logger) (Summary, error) {
	if opts.RecipesPerBean < 1 {
		return Summary{}, fmt.Errorf("recipes per bean must be positive, got %d", opts.RecipesPerBean)
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	if err := w.EnsureSchema(ctx); err != nil {
		return Summary{}, fmt.Errorf("ensure schema: %w", err)
	}
	if opts.Reset {
		if err := w.Reset(ctx); err != nil {
			return Summary{}, fmt.Errorf("reset: %w", err)
		}
		logger.InfoContext(ctx, "tables truncated")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), opts.BcryptCost)
	if err != nil {
		return Summary{}, fmt.Errorf("hash password: %w", err)
	}

	var sum Summary
	userIDs := make([]int64, len(sampleUsers))
	for i, su := range sampleUsers {
		u := &types.User{Name: su.name, Email: su.email, PasswordHash: string(hash), Role: su.role}
		if err := w.CreateUser(ctx, u); err != nil {
			return sum, fmt.Errorf("create user %s: %w", su.email, err)
		}
		userIDs[i] = u.ID
		sum.Users++
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var recipes []types.Recipe
	for _, sb := range sampleBeans {
		b := &types.Bean{UserID: userIDs[sb.owner], Name: sb.name, Origin: sb.origin}
		if err := w.CreateBean(ctx, b); err != nil {
			return sum, fmt.Errorf("create bean %s: %w", sb.name, err)
		}
		sum.Beans++
		recipes = append(recipes, generateRecipes(rng, b.ID, sb, opts.RecipesPerBean, opts.Now)...)
	}

	n, err := w.InsertRecipes(ctx, recipes)
	if err != nil {
		return sum, fmt.Errorf("insert recipes: %w", err)
	}
	sum.Recipes = n

	logger.InfoContext(ctx, "sample data loaded",
		"users", sum.Users,
		"beans", sum.Beans,
		"recipes", sum.Recipes,
	)
	return sum, nil
}

// generateRecipes produces n daily brews ending the day before now.
func generateRecipes(rng *rand.Rand, beanID int64, bean sampleBean, n int, now time.Time) []types.Recipe {
	day := now.UTC().Truncate(24 * time.Hour)
	out := make([]types.Recipe, 0, n)
	for i := range n {
		date := day.AddDate(0, 0, -(i + 1))
		temp, humidity := sampleConditions(rng, date)
		weather := sampleWeather(rng, temp, humidity)

		mesh, gram, extraction := Adjust(temp, humidity)
		mesh += bean.meshOffset + rng.NormFloat64()*0.2
		gram += bean.gramOffset + rng.NormFloat64()*0.05
		extraction += rng.NormFloat64() * 1.0

		out = append(out, types.Recipe{
			BeanID:         beanID,
			Date:           date,
			Weather:        weather,
			Temperature:    round(temp, 1),
			Humidity:       round(humidity, 0),
			DaysPassed:     float64(5 + rng.IntN(26)),
			Mesh:           round(mesh, 1),
			Gram:           round(gram, 2),
			ExtractionTime: round(extraction, 1),
		})
	}
	return out
}

// Adjust returns the noiseless extraction parameters for the conditions.
// Warm air coarsens the grind and lengthens extraction; humid air does the
// same to a lesser degree.
func Adjust(temperature, humidity float64) (mesh, gram, extractionTime float64) {
	tf := (temperature - 20) / 10
	hf := (humidity - 60) / 30
	mesh = baseMesh + tf*0.5 + hf*0.3
	gram = baseGram + tf*0.1 + hf*0.05
	extractionTime = baseExtractionTime + tf*2 + hf*1.5
	return mesh, gram, extractionTime
}

// sampleConditions draws a temperature and humidity following a yearly
// cycle for a temperate northern city.
func sampleConditions(rng *rand.Rand, date time.Time) (temp, humidity float64) {
	phase := 2 * math.Pi * float64(date.YearDay()-200) / 365
	temp = 16 + 10*math.Cos(phase) + rng.NormFloat64()*3
	humidity = 65 + 12*math.Cos(phase) + rng.NormFloat64()*10
	return temp, math.Max(20, math.Min(100, humidity))
}

func sampleWeather(rng *rand.Rand, temp, humidity float64) types.Weather {
	// Japanese labels match the historical brew logs.
	switch {
	case humidity > 82 && temp < 2:
		return "雪"
	case humidity > 82:
		return "雨"
	case humidity > 68 || rng.Float64() < 0.15:
		return "曇り"
	default:
		return "晴れ"
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
