package location

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonewatch/zonewatch/pkg/geo"
)

func TestNewSample_NormalizesNegatives(t *testing.T) {
	s := NewSample(geo.Coordinate{Latitude: 1, Longitude: 2}, 3, -1, -1, time.Unix(0, 0))
	assert.Equal(t, 0.0, s.SpeedMps)
	assert.Equal(t, 0.0, s.HeadingDegrees)
	assert.Equal(t, 3.0, s.AccuracyMeters)
}

func TestThrottle(t *testing.T) {
	th := &throttle{opts: WatchOptions{MinDistanceMeters: 5, MinInterval: 10 * time.Second}}
	t0 := time.Unix(1000, 0)
	at := func(lat float64, d time.Duration) Sample {
		return NewSample(geo.Coordinate{Latitude: lat, Longitude: 20}, 5, 0, 0, t0.Add(d))
	}

	assert.True(t, th.allow(at(10, 0)))
	assert.False(t, th.allow(at(10.001, 5*time.Second)), "too soon")
	assert.False(t, th.allow(at(10.00001, 20*time.Second)), "too close")
	assert.True(t, th.allow(at(10.001, 20*time.Second)))
}

func TestFileProvider_Current(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.txt")
	require.NoError(t, os.WriteFile(path, []byte("# device position\nbogus\n10.5, 20.25, 8, -1\n"), 0o600))

	p := NewFileProvider(path, time.Second, zerolog.Nop())
	s, err := p.Current(context.Background(), AccuracyHighest)
	require.NoError(t, err)

	assert.Equal(t, geo.Coordinate{Latitude: 10.5, Longitude: 20.25}, s.Coordinate)
	assert.Equal(t, 8.0, s.AccuracyMeters)
	assert.Equal(t, 0.0, s.SpeedMps)
}

func TestFileProvider_CurrentNoCoordinates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.txt")
	require.NoError(t, os.WriteFile(path, []byte("# nothing\n200,0\n"), 0o600))

	p := NewFileProvider(path, time.Second, zerolog.Nop())
	_, err := p.Current(context.Background(), AccuracyHighest)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestFileProvider_WatchFollowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.txt")
	require.NoError(t, os.WriteFile(path, []byte("10,20\n"), 0o600))

	p := NewFileProvider(path, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Watch(ctx, WatchOptions{})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, geo.Coordinate{Latitude: 10, Longitude: 20}, first.Coordinate)

	require.NoError(t, os.WriteFile(path, []byte("11,21\n"), 0o600))

	want := geo.Coordinate{Latitude: 11, Longitude: 21}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Coordinate == want {
				cancel()
				for range ch {
				}
				return
			}
		case <-deadline:
			t.Fatal("updated position not observed")
		}
	}
}

func TestFileProvider_WatchMissingFile(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "missing"), time.Second, zerolog.Nop())
	_, err := p.Watch(context.Background(), WatchOptions{})
	require.Error(t, err)
}

func TestRouteProvider_ReplaysRoute(t *testing.T) {
	start := geo.Coordinate{Latitude: 52.0, Longitude: 4.0}
	end := geo.Coordinate{Latitude: 52.009, Longitude: 4.0}
	encoded := geo.EncodePolyline([]geo.Coordinate{start, end})

	p, err := NewRouteProvider(encoded, 250, 5*time.Millisecond)
	require.NoError(t, err)

	ch, err := p.Watch(context.Background(), WatchOptions{})
	require.NoError(t, err)

	var got []Sample
	for s := range ch {
		got = append(got, s)
	}

	require.Equal(t, len(p.points), len(got))
	assert.Greater(t, len(got), 2)
	assert.InDelta(t, 0, geo.DistanceMeters(start, got[0].Coordinate), 1)
	assert.InDelta(t, 0, geo.DistanceMeters(end, got[len(got)-1].Coordinate), 1)
	assert.InDelta(t, 0, got[0].HeadingDegrees, 1, "route heads north")

	cur, err := p.Current(context.Background(), AccuracyHighest)
	require.NoError(t, err)
	assert.Equal(t, got[len(got)-1].Coordinate, cur.Coordinate)
}

func TestNewRouteProvider_Empty(t *testing.T) {
	_, err := NewRouteProvider("", 10, time.Second)
	require.Error(t, err)
}
