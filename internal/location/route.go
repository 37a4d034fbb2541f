package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/zonewatch/zonewatch/pkg/geo"
)

// RouteProvider replays an encoded polyline at a constant speed. Used for demos and soak runs.
type RouteProvider struct {
	points   []geo.Coordinate
	interval time.Duration
	speed    float64
	now      func() time.Time

	mu  sync.Mutex
	pos int
}

// NewRouteProvider decodes polyline and emits one point every interval, spaced stepMeters apart.
func NewRouteProvider(polyline string, stepMeters float64, interval time.Duration) (*RouteProvider, error) {
	points := geo.DecodePolyline(polyline)
	if len(points) == 0 {
		return nil, errors.New("route: empty polyline")
	}
	if interval <= 0 {
		interval = time.Second
	}
	if stepMeters > 0 {
		points = geo.Densify(points, stepMeters)
	}
	return &RouteProvider{
		points:   points,
		interval: interval,
		speed:    stepMeters / interval.Seconds(),
		now:      time.Now,
	}, nil
}

// Current returns the replay position.
func (p *RouteProvider) Current(ctx context.Context, _ Accuracy) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	p.mu.Lock()
	i := p.pos
	p.mu.Unlock()
	return p.sample(i), nil
}

// Watch emits the remaining route points and closes the channel at the end of the route.
func (p *RouteProvider) Watch(ctx context.Context, opts WatchOptions) (<-chan Sample, error) {
	out := make(chan Sample)
	go func() {
		defer close(out)
		th := &throttle{opts: opts}
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			p.mu.Lock()
			i := p.pos
			if p.pos < len(p.points)-1 {
				p.pos++
			}
			p.mu.Unlock()

			if s := p.sample(i); th.allow(s) {
				select {
				case <-ctx.Done():
					return
				case out <- s:
				}
			}
			if i == len(p.points)-1 {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

func (p *RouteProvider) sample(i int) Sample {
	heading := 0.0
	if i+1 < len(p.points) {
		heading = bearing(p.points[i], p.points[i+1])
	} else if i > 0 {
		heading = bearing(p.points[i-1], p.points[i])
	}
	return NewSample(p.points[i], 5, p.speed, heading, p.now())
}

func bearing(a, b geo.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
