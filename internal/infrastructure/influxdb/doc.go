// Package influxdb mirrors device traffic into InfluxDB for graphing.
//
// It wraps the official influxdb-client-go v2 library. Numeric telemetry
// becomes points in the device_telemetry measurement and commands become
// points in device_commands, both tagged with device_id. Payloads that are
// not numbers are skipped.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("esp32_1", "23.5", time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Failed batches are reported through SetOnError.
// Connection and health check errors are returned directly.
//
// The mirror is best-effort. The audit log remains the record of truth.
package influxdb
