package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementResourceValue is the measurement holding resource value history.
const MeasurementResourceValue = "resource_value"

// NewResourceValuePoint builds the point for one value change.
//
// Tags are the resource path and type name; the single field "value" holds
// the value (float64, int64, bool or string).
func NewResourceValuePoint(path, typeName string, value any, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementResourceValue,
		map[string]string{
			"path": path,
			"type": typeName,
		},
		map[string]any{
			"value": value,
		},
		ts,
	)
}

// WriteResourceValue records a resource value change. Non-blocking.
//
// Example:
//
//	client.WriteResourceValue("livingRoom/thermostat/temperatureSensor", "TemperatureSensor", 21.5, time.Now())
func (c *Client) WriteResourceValue(path, typeName string, value any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewResourceValuePoint(path, typeName, value, ts))
}

// WritePoint writes a custom point. Tags should be low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
