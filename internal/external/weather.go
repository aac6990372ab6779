package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brewcast/internal/types"
)

// Weather reading sources.
const (
	WeatherSourceAPI     = "openweathermap"
	WeatherSourceDefault = "default"
)

// Fallback conditions used when the API is unavailable.
const (
	DefaultPressure    = 1013.25
	defaultDescription = "clear sky"
)

// placeholderAPIKey is the value shipped in sample env files.
const placeholderAPIKey = "your_api_key_here"

// WeatherOptions locate the observed city.
type WeatherOptions struct {
	APIKey   string
	BaseURL  string
	Lat      float64
	Lon      float64
	Location string
	CacheTTL time.Duration
}

// ReadingCache stores JSON values with a TTL.
type ReadingCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// WeatherClient reads current conditions from OpenWeatherMap.
type WeatherClient struct {
	base   *BaseClient
	opts   WeatherOptions
	cache  ReadingCache
	logger *slog.Logger
	now    func() time.Time
}

// NewWeatherClient creates a client. cache may be nil.
func NewWeatherClient(base *BaseClient, opts WeatherOptions, cache ReadingCache, logger *slog.Logger) *WeatherClient {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &WeatherClient{
		base:   base,
		opts:   opts,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Configured reports whether an API key is set.
func (c *WeatherClient) Configured() bool {
	return c.opts.APIKey != "" && c.opts.APIKey != placeholderAPIKey
}

// DefaultReading is the reading returned when live data is unavailable.
func DefaultReading(location string, now time.Time) types.WeatherReading {
	return types.WeatherReading{
		Temperature: types.DefaultTemperature,
		Humidity:    types.DefaultHumidity,
		Pressure:    DefaultPressure,
		Weather:     types.WeatherClear,
		Description: defaultDescription,
		Location:    location,
		Source:      WeatherSourceDefault,
		ObservedAt:  now,
	}
}

// Current returns live conditions, served from the cache when fresh, or
// DefaultReading when no key is configured or the upstream fails.
func (c *WeatherClient) Current(ctx context.Context) types.WeatherReading {
	if !c.Configured() {
		return DefaultReading(c.opts.Location, c.now())
	}

	key := c.cacheKey()
	if c.cache != nil {
		var cached types.WeatherReading
		hit, err := c.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			c.logger.WarnContext(ctx, "weather cache read failed", "error", err)
		} else if hit {
			return cached
		}
	}

	reading, err := c.Fetch(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "weather lookup failed, using defaults", "error", err)
		return DefaultReading(c.opts.Location, c.now())
	}

	if c.cache != nil && c.opts.CacheTTL > 0 {
		if err := c.cache.SetJSON(ctx, key, reading, c.opts.CacheTTL); err != nil {
			c.logger.WarnContext(ctx, "weather cache write failed", "error", err)
		}
	}
	return reading
}

func (c *WeatherClient) cacheKey() string {
	return fmt.Sprintf("weather:current:%.4f:%.4f", c.opts.Lat, c.opts.Lon)
}

type owmResponse struct {
	Name string `json:"name"`
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Dt int64 `json:"dt"`
}

// Fetch calls the current weather endpoint in metric units.
func (c *WeatherClient) Fetch(ctx context.Context) (types.WeatherReading, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.opts.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.opts.Lon, 'f', -1, 64))
	q.Set("appid", c.opts.APIKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return types.WeatherReading{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build weather request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return types.WeatherReading{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.WeatherReading{}, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to read weather response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.WeatherReading{}, types.NewAppError(types.ErrCodeUpstreamWeather,
			fmt.Sprintf("weather API returned %d", resp.StatusCode), nil)
	}

	var payload owmResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.WeatherReading{}, types.NewAppError(types.ErrCodeUpstreamWeather, "malformed weather response", err)
	}
	return c.toReading(payload), nil
}

// toReading fills absent fields with the fallback values.
func (c *WeatherClient) toReading(p owmResponse) types.WeatherReading {
	r := DefaultReading(c.opts.Location, c.now())
	r.Source = WeatherSourceAPI
	r.Description = ""
	if p.Name != "" && r.Location == "" {
		r.Location = p.Name
	}
	if p.Main != nil {
		if p.Main.Temp != nil {
			r.Temperature = *p.Main.Temp
		}
		if p.Main.Humidity != nil {
			r.Humidity = *p.Main.Humidity
		}
		if p.Main.Pressure != nil {
			r.Pressure = *p.Main.Pressure
		}
	}
	if len(p.Weather) > 0 {
		r.Weather = types.ParseWeather(p.Weather[0].Main)
		r.Description = p.Weather[0].Description
	}
	if p.Dt > 0 {
		r.ObservedAt = time.Unix(p.Dt, 0).UTC()
	}
	return r
}
