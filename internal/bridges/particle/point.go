package particle

import (
	"maps"
	"time"
)

// Tag and field keys carried by every accepted reading.
const (
	TagLocation      = "location"
	TagDevice        = "device"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
)

// Point is a single time-series sample ready for a Sink.
type Point struct {
	// Measurement names the series (e.g. "environment").
	Measurement string

	// Tags holds the location and device tags.
	Tags map[string]string

	// Fields holds the temperature and humidity values.
	Fields map[string]float64

	// Timestamp is nanoseconds since the Unix epoch.
	Timestamp int64
}

// Time returns the point timestamp as a time.Time in UTC.
func (p Point) Time() time.Time {
	return time.Unix(0, p.Timestamp).UTC()
}

// Location returns the location tag.
func (p Point) Location() string {
	return p.Tags[TagLocation]
}

// Device returns the device tag.
func (p Point) Device() string {
	return p.Tags[TagDevice]
}

// Temperature returns the temperature field.
func (p Point) Temperature() float64 {
	return p.Fields[FieldTemperature]
}

// Humidity returns the humidity field.
func (p Point) Humidity() float64 {
	return p.Fields[FieldHumidity]
}

// Clone returns a deep copy so sinks can retain the point safely.
func (p Point) Clone() Point {
	return Point{
		Measurement: p.Measurement,
		Tags:        maps.Clone(p.Tags),
		Fields:      maps.Clone(p.Fields),
		Timestamp:   p.Timestamp,
	}
}
