// Package tsdb provides the VictoriaMetrics sink for sensor readings.
//
// It writes to VictoriaMetrics using InfluxDB line protocol over HTTP
// (POST /write). Line encoding reuses the InfluxDB client's point encoder.
//
// # Usage
//
//	client, err := tsdb.Connect(ctx, cfg.TSDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.WritePoint(ctx, "environment",
//	    map[string]string{"location": "lab", "device": "d1"},
//	    map[string]interface{}{"temperature": 21.5, "humidity": 40.2},
//	    time.Unix(1700000000, 0))
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are synchronous. Failures are returned wrapped in ErrWriteFailed;
// the caller decides whether to log or drop.
package tsdb
