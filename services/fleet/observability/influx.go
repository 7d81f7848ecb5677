// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// TelemetrySink receives raw sensor readings for long-term timeseries
// storage. The analyzer writes to it best-effort: sink failures never fail a
// run.
type TelemetrySink interface {
	WriteReadings(ctx context.Context, vehicleID, geography string, at time.Time, readings map[string]float64) error
	Close()
}

// InfluxConfig holds the connection settings for the timeseries tier.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// InfluxSink writes vehicle telemetry points to InfluxDB 2.x.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInfluxSink connects the blocking write API. The caller owns Close.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx sink: url and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// WriteReadings emits one "vehicle_telemetry" point tagged by vehicle and
// geography, with one field per sensor.
func (s *InfluxSink) WriteReadings(ctx context.Context, vehicleID, geography string, at time.Time, readings map[string]float64) error {
	fields := make(map[string]any, len(readings))
	for k, v := range readings {
		fields[k] = v
	}
	point := influxdb2.NewPoint("vehicle_telemetry",
		map[string]string{"vehicle_id": vehicleID, "geography": geography},
		fields, at)
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	s.client.Close()
}
