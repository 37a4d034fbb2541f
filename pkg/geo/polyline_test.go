package geo

import (
	"math"
	"testing"
)

func TestDecodePolyline(t *testing.T) {
	tests := []struct {
		name     string
		encoded  string
		expected []Coordinate
	}{
		{
			name:     "single point",
			encoded:  "_p~iF~ps|U",
			expected: []Coordinate{{Latitude: 38.5, Longitude: -120.2}},
		},
		{
			name:    "three points",
			encoded: "_p~iF~ps|U_ulLnnqC_mqNvxq`@",
			expected: []Coordinate{
				{Latitude: 38.5, Longitude: -120.2},
				{Latitude: 40.7, Longitude: -120.95},
				{Latitude: 43.252, Longitude: -126.453},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodePolyline(tt.encoded)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d coordinates, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if !near(got[i], tt.expected[i], 1e-5) {
					t.Errorf("coordinate %d: expected %+v, got %+v", i, tt.expected[i], got[i])
				}
			}
		})
	}

	if DecodePolyline("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestEncodePolyline_RoundTrip(t *testing.T) {
	coords := []Coordinate{
		{Latitude: 52.3676, Longitude: 4.9041},
		{Latitude: 52.0907, Longitude: 5.1214},
		{Latitude: -6.2088, Longitude: 106.8456},
	}

	decoded := DecodePolyline(EncodePolyline(coords))
	if len(decoded) != len(coords) {
		t.Fatalf("expected %d coordinates, got %d", len(coords), len(decoded))
	}
	for i := range coords {
		if !near(decoded[i], coords[i], 1e-5) {
			t.Errorf("coordinate %d: expected %+v, got %+v", i, coords[i], decoded[i])
		}
	}

	if EncodePolyline(nil) != "" {
		t.Error("expected empty string for nil input")
	}
}

func TestDensify(t *testing.T) {
	path := []Coordinate{
		{Latitude: 52.0, Longitude: 4.0},
		{Latitude: 52.01, Longitude: 4.0},
		{Latitude: 52.02, Longitude: 4.0},
	}

	points := Densify(path, 500)
	if len(points) < 5 {
		t.Fatalf("expected at least 5 points for a ~2.2km path, got %d", len(points))
	}
	if points[0] != path[0] || points[len(points)-1] != path[len(path)-1] {
		t.Error("densified path must keep its endpoints")
	}
	for i := 1; i < len(points)-1; i++ {
		d := DistanceMeters(points[i-1], points[i])
		if math.Abs(d-500) > 1 {
			t.Errorf("step %d: expected ~500m, got %.1fm", i, d)
		}
	}

	if got := Densify(path, 0); len(got) != len(path) {
		t.Errorf("non-positive step should return input, got %d points", len(got))
	}
}

func TestPathLength(t *testing.T) {
	if PathLength(nil) != 0 {
		t.Error("expected zero length for empty path")
	}
	length := PathLength([]Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 1, Longitude: 0}})
	if math.Abs(length-111195) > 5 {
		t.Errorf("expected ~111195m, got %.0fm", length)
	}
}

func near(a, b Coordinate, tolerance float64) bool {
	return math.Abs(a.Latitude-b.Latitude) <= tolerance && math.Abs(a.Longitude-b.Longitude) <= tolerance
}
