package storage

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/feature"
	"github.com/ilift/wellstream/pkg/retry"
)

// measurement is the InfluxDB measurement all engineered readings land in.
const measurement = "sensor_features"

// InfluxConfig holds the connection settings for the InfluxDB store.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Influx writes engineered feature vectors to InfluxDB using the blocking
// write API so a whole batch succeeds or fails as one operation.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// healthRetry covers startup races where InfluxDB is still coming up
// when the pipeline boots.
var healthRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// NewInflux creates the client and verifies connectivity.
func NewInflux(ctx context.Context, cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Influx", "NewInflux", "url and token required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	check, err := retry.DoWithResult(ctx, healthRetry, func() (*domain.HealthCheck, error) {
		return client.Health(ctx)
	})
	if err != nil {
		client.Close()
		return nil, errors.WrapTransient(err, "Influx", "NewInflux", "health check")
	}
	if check.Status != domain.HealthCheckStatusPass {
		client.Close()
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable, "Influx", "NewInflux",
			"health status "+string(check.Status))
	}

	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// BulkInsert converts the batch to line-protocol points and writes them
// in one call.
func (s *Influx) BulkInsert(ctx context.Context, records []feature.Vector) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*write.Point, len(records))
	for i, rec := range records {
		points[i] = toPoint(rec)
	}

	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return errors.WrapTransient(err, "Influx", "BulkInsert", "write points")
	}
	return nil
}

// Close releases the underlying client.
func (s *Influx) Close() error {
	s.client.Close()
	return nil
}

// toPoint maps a feature vector to an Influx point. The record timestamp
// is used, not the write time, so late data lands at its own instant; the
// (well_id, sensor_type, timestamp) series key makes redelivery an
// idempotent upsert.
func toPoint(rec feature.Vector) *write.Point {
	fields := map[string]any{
		"id":              rec.ID,
		"sensor_value":    rec.Value,
		"window_size":     rec.WindowLen,
		"is_anomaly":      rec.IsAnomaly,
		"hour":            rec.Hour,
		"day_of_week":     rec.DayOfWeek,
		"day_of_month":    rec.DayOfMonth,
		"month":           rec.Month,
		"day_of_year":     rec.DayOfYear,
		"week_of_year":    rec.WeekOfYear,
		"quarter":         rec.Quarter,
		"is_weekend":      rec.IsWeekend,
		"hour_sin":        rec.HourSin,
		"hour_cos":        rec.HourCos,
		"day_of_week_sin": rec.DayOfWeekSin,
		"day_of_week_cos": rec.DayOfWeekCos,
		"day_sin":         rec.DaySin,
		"day_cos":         rec.DayCos,
		"day_of_year_sin": rec.DayOfYearSin,
		"day_of_year_cos": rec.DayOfYearCos,
	}

	if rec.Unit != "" {
		fields["measurement_unit"] = rec.Unit
	}
	if rec.Quality != nil {
		fields["data_quality"] = *rec.Quality
	}

	// Absent statistics stay absent in storage
	addOptional(fields, "mean", rec.Mean)
	addOptional(fields, "median", rec.Median)
	addOptional(fields, "std", rec.Std)
	addOptional(fields, "min", rec.Min)
	addOptional(fields, "max", rec.Max)
	addOptional(fields, "percentile_25", rec.P25)
	addOptional(fields, "percentile_75", rec.P75)
	addOptional(fields, "iqr", rec.IQR)
	addOptional(fields, "trend", rec.Trend)
	addOptional(fields, "acceleration", rec.Acceleration)
	addOptional(fields, "volatility", rec.Volatility)
	addOptional(fields, "change_from_mean", rec.ChangeFromMean)
	addOptional(fields, "change_percent", rec.ChangePercent)
	addOptional(fields, "rate_of_change", rec.RateOfChange)
	addOptional(fields, "z_score", rec.ZScore)

	return write.NewPoint(
		measurement,
		map[string]string{
			"well_id":     rec.WellID,
			"sensor_type": rec.SensorType,
		},
		fields,
		rec.Timestamp,
	)
}

func addOptional(fields map[string]any, name string, value *float64) {
	if value != nil {
		fields[name] = *value
	}
}
