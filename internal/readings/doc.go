// Package readings keeps a local SQLite journal of accepted sensor
// readings.
//
// The journal is an optional sink next to the time-series backends: every
// point the bridge accepts is recorded with its tags and fields so recent
// history survives a metrics database outage. Old rows are removed with
// Prune, which the bridge runs at startup when database.retention_hours
// is set.
//
// The schema lives in the migrations package (readings table).
package readings
