// Package influxdb records resource value history in InfluxDB v2.
//
// It wraps influxdb-client-go with connection checks, batched non-blocking
// writes and a health check. The history recorder writes one
// "resource_value" point per value change, tagged with the resource path
// and type.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
//
//	client.WriteResourceValue("livingRoom/thermostat/valve", "ValveSetting", 0.4, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
