package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	data   map[string]string
	ttls   map[string]time.Duration
	err    error
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

type reading struct {
	Temperature float64 `json:"temperature"`
	Weather     string  `json:"weather"`
}

func TestRedis_SetThenGet(t *testing.T) {
	fc := newFakeClient()
	c := newWithClient(fc)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "weather:current", reading{Temperature: 21.5, Weather: "Rain"}, 5*time.Minute))
	assert.Contains(t, fc.data, "brewcast:weather:current")
	assert.Equal(t, 5*time.Minute, fc.ttls["brewcast:weather:current"])

	var got reading
	hit, err := c.GetJSON(ctx, "weather:current", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, reading{Temperature: 21.5, Weather: "Rain"}, got)
}

func TestRedis_Miss(t *testing.T) {
	c := newWithClient(newFakeClient())

	var got reading
	hit, err := c.GetJSON(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedis_CorruptValue(t *testing.T) {
	fc := newFakeClient()
	fc.data["brewcast:bad"] = "{not json"
	c := newWithClient(fc)

	var got reading
	hit, err := c.GetJSON(context.Background(), "bad", &got)
	assert.Error(t, err)
	assert.False(t, hit)
}

func TestRedis_BackendErrors(t *testing.T) {
	fc := newFakeClient()
	fc.err = errors.New("connection refused")
	c := newWithClient(fc)
	ctx := context.Background()

	_, err := c.GetJSON(ctx, "k", &reading{})
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, c.SetJSON(ctx, "k", reading{}, time.Minute), "connection refused")
	assert.Error(t, c.Ping(ctx))
}

func TestRedis_DeleteAndClose(t *testing.T) {
	fc := newFakeClient()
	c := newWithClient(fc)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", reading{}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))
	assert.Empty(t, fc.data)

	require.NoError(t, c.Close())
	assert.True(t, fc.closed)
}

func TestOpen(t *testing.T) {
	c, err := Open("redis://localhost:6379/0")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open("http://localhost:6379")
	assert.Error(t, err)
}
