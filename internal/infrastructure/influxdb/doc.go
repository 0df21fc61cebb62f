// Package influxdb provides the InfluxDB v2 sink for sensor readings.
//
// It wraps the official influxdb-client-go v2 library using the blocking
// write API: each reading is written with its own request and the caller
// learns immediately whether it was stored.
//
// # Usage
//
//	client, err := influxdb.New(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.HealthCheck(ctx); err != nil {
//	    logger.Warn("influxdb not reachable yet", "error", err)
//	}
//
//	err = client.WritePoint(ctx, "environment",
//	    map[string]string{"location": "lab", "device": "d1"},
//	    map[string]interface{}{"temperature": 21.5, "humidity": 40.2},
//	    time.Unix(1700000000, 0))
//
// # Precision
//
// Points are written with nanosecond precision. Readings arrive with
// second resolution, so the trailing nine digits are always zero.
package influxdb
