package geo

import "math"

// DecodePolyline decodes a Google polyline-encoded string (precision 1e5) into coordinates.
func DecodePolyline(encoded string) []Coordinate {
	if encoded == "" {
		return nil
	}

	var coords []Coordinate
	index := 0
	lat := 0
	lon := 0

	for index < len(encoded) {
		latDelta, next := decodeValue(encoded, index)
		index = next
		lat += latDelta

		lonDelta, next := decodeValue(encoded, index)
		index = next
		lon += lonDelta

		coords = append(coords, Coordinate{
			Latitude:  float64(lat) / 1e5,
			Longitude: float64(lon) / 1e5,
		})
	}

	return coords
}

func decodeValue(encoded string, index int) (int, int) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index
	}
	return result >> 1, index
}

// EncodePolyline encodes coordinates using the Google polyline algorithm (precision 1e5).
func EncodePolyline(coords []Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	buf := make([]byte, 0, len(coords)*4)
	prevLat, prevLon := 0, 0

	for _, c := range coords {
		lat := int(math.Round(c.Latitude * 1e5))
		lon := int(math.Round(c.Longitude * 1e5))

		buf = encodeValue(buf, lat-prevLat)
		buf = encodeValue(buf, lon-prevLon)

		prevLat, prevLon = lat, lon
	}

	return string(buf)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// PathLength returns the summed haversine length of a path in meters.
func PathLength(coords []Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += DistanceMeters(coords[i-1], coords[i])
	}
	return total
}

// Densify returns points spaced roughly stepMeters apart along the path, always keeping the
// first and last point. A non-positive step returns the input unchanged.
func Densify(coords []Coordinate, stepMeters float64) []Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if stepMeters <= 0 {
		return coords
	}

	out := []Coordinate{coords[0]}
	carried := 0.0

	for i := 1; i < len(coords); i++ {
		from, to := coords[i-1], coords[i]
		segment := DistanceMeters(from, to)
		if segment == 0 {
			continue
		}

		travelled := 0.0
		for carried+(segment-travelled) >= stepMeters {
			travelled += stepMeters - carried
			fraction := travelled / segment
			out = append(out, Coordinate{
				Latitude:  from.Latitude + fraction*(to.Latitude-from.Latitude),
				Longitude: from.Longitude + fraction*(to.Longitude-from.Longitude),
			})
			carried = 0
		}
		carried += segment - travelled
	}

	if last := coords[len(coords)-1]; out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}
