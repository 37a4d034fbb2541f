package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/pkg/geo"
)

// ErrNoCoordinates is returned when the location file holds no valid line.
var ErrNoCoordinates = errors.New("no valid coordinates found in location file")

// FileProvider reads the device position from a text file and polls it for changes.
// The first non-comment line of the form "lat,lon[,accuracy[,speed[,heading]]]" wins.
type FileProvider struct {
	path   string
	period time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewFileProvider creates a FileProvider polling path every period (default 2s).
func NewFileProvider(path string, period time.Duration, logger zerolog.Logger) *FileProvider {
	if period <= 0 {
		period = 2 * time.Second
	}
	return &FileProvider{
		path:   path,
		period: period,
		logger: logger.With().Str("component", "location_file").Logger(),
		now:    time.Now,
	}
}

// Current reads the file once.
func (p *FileProvider) Current(ctx context.Context, _ Accuracy) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	s, err := p.read()
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s, nil
}

// Watch polls the file and emits samples that pass the OS-style throttle in opts.
func (p *FileProvider) Watch(ctx context.Context, opts WatchOptions) (<-chan Sample, error) {
	if _, err := os.Stat(p.path); err != nil {
		return nil, fmt.Errorf("location file: %w", err)
	}

	out := make(chan Sample)
	go func() {
		defer close(out)
		th := &throttle{opts: opts}
		ticker := time.NewTicker(p.period)
		defer ticker.Stop()

		for {
			s, err := p.read()
			if err != nil {
				p.logger.Debug().Err(err).Msg("location file read failed")
			} else if th.allow(s) {
				select {
				case <-ctx.Done():
					return
				case out <- s:
				}
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

func (p *FileProvider) read() (Sample, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return Sample{}, fmt.Errorf("read %q: %w", p.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, ok := parseLine(line, p.now())
		if ok {
			return s, nil
		}
	}
	return Sample{}, ErrNoCoordinates
}

func parseLine(line string, at time.Time) (Sample, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return Sample{}, false
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sample{}, false
		}
		values[i] = v
	}
	for len(values) < 5 {
		values = append(values, 0)
	}

	c := geo.Coordinate{Latitude: values[0], Longitude: values[1]}
	if c.Validate() != nil {
		return Sample{}, false
	}
	return NewSample(c, values[2], values[3], values[4], at), true
}
