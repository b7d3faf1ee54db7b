package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	coremetrics "github.com/kilianp07/transitsim/core/metrics"
)

// InfluxClient reads back the points the simulation's influx sink wrote.
type InfluxClient struct {
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

// NewInfluxClient creates a reader for org/bucket. The server must be up.
func NewInfluxClient(url, org, bucket, token string) *InfluxClient {
	c := influxdb2.NewClient(url, token)
	return &InfluxClient{bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// CountEvents returns how many simulation_event points of kind were written
// in the last hour.
func (c *InfluxClient) CountEvents(ctx context.Context, kind coremetrics.Kind) (int64, error) {
	flux := fmt.Sprintf(`from(bucket:%q)
  |> range(start: -1h)
  |> filter(fn: (r) => r._measurement == "simulation_event" and r._field == "value" and r.kind == %q)
  |> group()
  |> count()`, c.bucket, string(kind))
	res, err := c.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	var n int64
	for res.Next() {
		if v, ok := res.Record().Value().(int64); ok {
			n += v
		}
	}
	return n, res.Err()
}

// Close releases the underlying client resources.
func (c *InfluxClient) Close() { c.client.Close() }
