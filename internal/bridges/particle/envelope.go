package particle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Outcome classifies what Decode made of a payload.
type Outcome int

const (
	// OutcomeAccepted means the payload carried a valid sensor reading.
	OutcomeAccepted Outcome = iota

	// OutcomeSkipped means the envelope was valid but its data is not a
	// sensor reading (other firmware events, plain strings).
	OutcomeSkipped

	// OutcomeInvalid means the payload is not a JSON envelope with a data field.
	OutcomeInvalid

	// OutcomeMalformed means the data looked like a reading but a required
	// key is missing or a value is not numeric.
	OutcomeMalformed
)

// String returns the lowercase outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result is the outcome of decoding one SSE payload.
//
// Exactly one of the following holds:
//   - OutcomeAccepted: Point is populated, Err is nil (or the sink error
//     when returned from Processor.Handle)
//   - OutcomeSkipped: Reason describes why, Err wraps ErrNotReading
//   - OutcomeInvalid: Err wraps ErrInvalidEnvelope
//   - OutcomeMalformed: Err wraps ErrMalformedReading
type Result struct {
	Outcome Outcome
	Point   Point
	Reason  string
	Err     error

	// Data is the inner envelope data string, when one was found.
	Data string
}

// Accepted reports whether the result carries a point.
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// nanosPerSecond converts reading timestamps (seconds) to point timestamps.
const nanosPerSecond int64 = 1_000_000_000

// envelope is the outer event wrapper sent by Particle Cloud.
// Only data is used; ttl, published_at and coreid are ignored.
type envelope map[string]json.RawMessage

// reading is the sensor reading published by the firmware.
type reading map[string]json.RawMessage

// Decode unwraps the outer event envelope and the inner sensor reading.
//
// It is pure: it performs no I/O and never panics on hostile input.
//
// Parameters:
//   - payload: The text following "data: " in an SSE frame
//
// Returns:
//   - Result: Accepted with a point, or Skipped/Invalid/Malformed with the cause
func Decode(payload string) Result {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Result{Outcome: OutcomeInvalid, Err: fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)}
	}

	rawData, ok := env["data"]
	if !ok {
		return Result{Outcome: OutcomeInvalid, Err: fmt.Errorf("%w: missing data field", ErrInvalidEnvelope)}
	}

	var data string
	if err := json.Unmarshal(rawData, &data); err != nil {
		return skipped("", "data field is not a string")
	}

	var rd reading
	if err := json.Unmarshal([]byte(data), &rd); err != nil {
		return skipped(data, "data is not a JSON object")
	}

	if _, ok := rd["measurement"]; !ok {
		return skipped(data, "missing measurement")
	}
	if _, ok := rd["fields"]; !ok {
		return skipped(data, "missing fields")
	}

	point, err := rd.toPoint()
	if err != nil {
		return Result{Outcome: OutcomeMalformed, Data: data, Err: fmt.Errorf("%w: %w", ErrMalformedReading, err)}
	}

	return Result{Outcome: OutcomeAccepted, Point: point, Data: data}
}

func skipped(data, reason string) Result {
	return Result{
		Outcome: OutcomeSkipped,
		Data:    data,
		Reason:  reason,
		Err:     fmt.Errorf("%w: %s", ErrNotReading, reason),
	}
}

// toPoint extracts the required keys and converts units.
func (rd reading) toPoint() (Point, error) {
	var measurement string
	if err := json.Unmarshal(rd["measurement"], &measurement); err != nil || measurement == "" {
		return Point{}, errors.New("measurement must be a non-empty string")
	}

	tags, err := object(rd, "tags")
	if err != nil {
		return Point{}, err
	}
	location, err := stringValue(tags, "tags", TagLocation)
	if err != nil {
		return Point{}, err
	}
	device, err := stringValue(tags, "tags", TagDevice)
	if err != nil {
		return Point{}, err
	}

	fields, err := object(rd, "fields")
	if err != nil {
		return Point{}, err
	}
	temperature, err := floatValue(fields, "fields", FieldTemperature)
	if err != nil {
		return Point{}, err
	}
	humidity, err := floatValue(fields, "fields", FieldHumidity)
	if err != nil {
		return Point{}, err
	}

	rawTS, ok := rd["timestamp"]
	if !ok {
		return Point{}, errors.New("missing key timestamp")
	}
	seconds, err := toInt64(rawTS)
	if err != nil {
		return Point{}, fmt.Errorf("timestamp: %w", err)
	}
	if seconds > math.MaxInt64/nanosPerSecond || seconds < math.MinInt64/nanosPerSecond {
		return Point{}, fmt.Errorf("timestamp %d out of range", seconds)
	}

	return Point{
		Measurement: measurement,
		Tags: map[string]string{
			TagLocation: location,
			TagDevice:   device,
		},
		Fields: map[string]float64{
			FieldTemperature: temperature,
			FieldHumidity:    humidity,
		},
		Timestamp: seconds * nanosPerSecond,
	}, nil
}

// object decodes rd[key] as a JSON object.
func object(rd reading, key string) (map[string]json.RawMessage, error) {
	raw, ok := rd[key]
	if !ok {
		return nil, fmt.Errorf("missing key %s", key)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%s must be an object", key)
	}
	return obj, nil
}

func stringValue(obj map[string]json.RawMessage, parent, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("missing key %s.%s", parent, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s.%s must be a string", parent, key)
	}
	return s, nil
}

func floatValue(obj map[string]json.RawMessage, parent, key string) (float64, error) {
	raw, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("missing key %s.%s", parent, key)
	}
	f, err := toFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %w", parent, key, err)
	}
	return f, nil
}

// scalar decodes a JSON number (kept as json.Number) or string.
func scalar(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// toFloat accepts JSON numbers and numeric strings. Booleans, null and
// non-finite values are rejected.
func toFloat(raw json.RawMessage) (float64, error) {
	v, err := scalar(raw)
	if err != nil {
		return 0, err
	}

	var f float64
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("non-numeric value %s", raw)
	}
	if err != nil {
		return 0, fmt.Errorf("non-numeric value %s", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %s", raw)
	}
	return f, nil
}

// toInt64 accepts integer JSON numbers, fractional numbers (truncated
// toward zero) and strings holding a base-10 integer.
func toInt64(raw json.RawMessage) (int64, error) {
	v, err := scalar(raw)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f >= math.MaxInt64 || f <= math.MinInt64 {
			return 0, fmt.Errorf("non-integer value %s", raw)
		}
		return int64(f), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("non-integer value %s", raw)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("non-integer value %s", raw)
	}
}
