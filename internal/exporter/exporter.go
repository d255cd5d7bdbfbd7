// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package exporter orchestrates one scheduled export of a CloudWatch log
// group to S3: resolve the previous watermark, check whether the group saw
// activity since, submit an export task for the new window, and advance the
// watermark. Each Run is a single attempt; a failed submission leaves the
// watermark untouched so the next scheduled invocation retries the window.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/logship/internal/logctx"
	"github.com/cardinalhq/logship/internal/logsource"
	"github.com/cardinalhq/logship/internal/watermark"
)

const (
	defaultLookback          = 24 * time.Hour
	defaultDestinationPrefix = "logs"
	defaultTaskNamePrefix    = "export"

	stampLayout = "20060102-150405"
)

var (
	submittedCounter metric.Int64Counter
	skippedCounter   metric.Int64Counter
	failedCounter    metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/logship/internal/exporter")

	var err error
	submittedCounter, err = meter.Int64Counter(
		"logship.export.submitted",
		metric.WithDescription("Number of export tasks submitted"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create export.submitted counter: %w", err))
	}

	skippedCounter, err = meter.Int64Counter(
		"logship.export.skipped",
		metric.WithDescription("Number of invocations skipped with no new activity"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create export.skipped counter: %w", err))
	}

	failedCounter, err = meter.Int64Counter(
		"logship.export.failed",
		metric.WithDescription("Number of failed invocations"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create export.failed counter: %w", err))
	}
}

// Request carries the three required inputs of one invocation.
type Request struct {
	LogGroupName      string
	DestinationBucket string
	Region            string
}

func (r Request) validate() error {
	var missing []string
	if r.LogGroupName == "" {
		missing = append(missing, "log group name")
	}
	if r.DestinationBucket == "" {
		missing = append(missing, "destination bucket")
	}
	if r.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Option is a functional option for New.
type Option func(*Exporter)

// WithClock injects the wall clock. Tests fix now with this.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// WithLookback sets the window exported when no watermark and no group
// creation time can be resolved.
func WithLookback(d time.Duration) Option {
	return func(e *Exporter) {
		e.lookback = d
	}
}

// WithDestinationPrefix sets the key prefix exported objects land under.
func WithDestinationPrefix(prefix string) Option {
	return func(e *Exporter) {
		e.destPrefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithTaskNamePrefix sets the prefix of generated export task names.
func WithTaskNamePrefix(prefix string) Option {
	return func(e *Exporter) {
		e.taskPrefix = prefix
	}
}

// Exporter runs export invocations against a watermark store and a log
// source. It holds no per-invocation state; the only state is the externally
// persisted watermark.
type Exporter struct {
	watermarks watermark.Store
	source     logsource.Source

	now        func() time.Time
	lookback   time.Duration
	destPrefix string
	taskPrefix string
}

func New(store watermark.Store, source logsource.Source, opts ...Option) *Exporter {
	e := &Exporter{
		watermarks: store,
		source:     source,
		now:        time.Now,
		lookback:   defaultLookback,
		destPrefix: defaultDestinationPrefix,
		taskPrefix: defaultTaskNamePrefix,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one invocation. It never panics outward and never returns an
// error; everything is folded into the Outcome.
func (e *Exporter) Run(ctx context.Context, req Request) (out Outcome) {
	ll := logctx.FromContext(ctx).With("logGroup", req.LogGroupName)

	defer func() {
		if r := recover(); r != nil {
			ll.Error("export invocation panicked", "panic", r)
			failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "panic")))
			out = failed(req.LogGroupName, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := req.validate(); err != nil {
		ll.Error("invalid export request", "error", err)
		failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "validation")))
		return failed(req.LogGroupName, err)
	}

	// One wall-clock read per invocation keeps the export upper bound and
	// the new watermark value consistent.
	now := e.now().UTC().UnixMilli()
	start := e.resolveStart(ctx, ll, req.LogGroupName, now)

	latest, found, err := e.source.LatestEventTime(ctx, req.LogGroupName)
	if err != nil {
		// Fail closed: an activity check we cannot complete is treated as
		// no new activity, not as an invocation failure.
		ll.Error("activity check failed, assuming no new logs", "error", err)
		skippedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "activity_check_error")))
		return skipped(req.LogGroupName)
	}
	if !found || latest <= start {
		ll.Info("no new logs since last export",
			"lastExportTime", start, "latestEventTime", latest)
		skippedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "no_new_logs")))
		return skipped(req.LogGroupName)
	}

	flatName := strings.ReplaceAll(req.LogGroupName, "/", "-")
	task := logsource.ExportTask{
		TaskName:     fmt.Sprintf("%s-%s-%s", e.taskPrefix, flatName, stamp(now)),
		LogGroupName: req.LogGroupName,
		From:         start,
		// Back off one millisecond from now to avoid racing in-flight writes.
		To:     now - 1,
		Bucket: req.DestinationBucket,
		Prefix: fmt.Sprintf("%s/%s/%s", e.destPrefix, flatName, stamp(start)),
	}

	taskID, err := e.source.StartExport(ctx, task)
	if err != nil {
		// Watermark stays put; the next invocation retries the same window.
		ll.Error("export task submission rejected", "error", err)
		failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "submission")))
		return failed(req.LogGroupName, err)
	}
	ll.Info("export task created",
		"taskId", taskID, "from", task.From, "to", task.To, "destinationPrefix", task.Prefix)
	submittedCounter.Add(ctx, 1)

	// The task was accepted, so the export is reported even if this write
	// fails; a lost write means the next invocation re-exports the window.
	if err := e.watermarks.Put(ctx, req.LogGroupName, watermark.Record{LastExportTime: now}); err != nil {
		ll.Error("failed to persist new watermark", "error", err, "lastExportTime", now)
	}

	return exported(req.LogGroupName, taskID, start, now)
}

// resolveStart returns the lower bound of the export window: the persisted
// watermark, then the group creation time, then lookback before now. A
// starting point always exists.
func (e *Exporter) resolveStart(ctx context.Context, ll *slog.Logger, logGroupName string, now int64) int64 {
	fallback := now - e.lookback.Milliseconds()

	rec, found, err := e.watermarks.Get(ctx, logGroupName)
	if err != nil {
		ll.Error("failed to read watermark, using lookback default", "error", err, "default", fallback)
		return fallback
	}
	if found {
		if rec.LastExportTime <= 0 {
			// A record without a usable timestamp would anchor the window at
			// epoch 0 and export the group's entire history.
			ll.Error("watermark record has no usable timestamp, using lookback default", "default", fallback)
			return fallback
		}
		ll.Info("resumed from persisted watermark", "lastExportTime", rec.LastExportTime)
		return rec.LastExportTime
	}

	ll.Warn("no watermark found, exporting all available logs")
	ts, found, err := e.source.CreationTime(ctx, logGroupName)
	if err != nil {
		ll.Error("failed to look up log group creation time, using lookback default", "error", err, "default", fallback)
		return fallback
	}
	if !found {
		return fallback
	}
	ll.Info("using log group creation time as start time", "creationTime", ts)
	return ts
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(stampLayout)
}
