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

package exporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/logship/internal/logsource"
	"github.com/cardinalhq/logship/internal/watermark"
)

type memStore struct {
	records map[string]watermark.Record
	getErr  error
	putErr  error

	gets int
	puts int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]watermark.Record)}
}

func (m *memStore) Get(_ context.Context, group string) (watermark.Record, bool, error) {
	m.gets++
	if m.getErr != nil {
		return watermark.Record{}, false, m.getErr
	}
	rec, ok := m.records[group]
	return rec, ok, nil
}

func (m *memStore) Put(_ context.Context, group string, rec watermark.Record) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.records[group] = rec
	return nil
}

type fakeSource struct {
	creationTime  int64
	creationFound bool
	creationErr   error

	latest      int64
	latestFound bool
	latestErr   error

	taskID    string
	exportErr error
	lastTask  *logsource.ExportTask

	calls int
}

func (f *fakeSource) CreationTime(_ context.Context, _ string) (int64, bool, error) {
	f.calls++
	return f.creationTime, f.creationFound, f.creationErr
}

func (f *fakeSource) LatestEventTime(_ context.Context, _ string) (int64, bool, error) {
	f.calls++
	return f.latest, f.latestFound, f.latestErr
}

func (f *fakeSource) StartExport(_ context.Context, task logsource.ExportTask) (string, error) {
	f.calls++
	f.lastTask = &task
	if f.exportErr != nil {
		return "", f.exportErr
	}
	return f.taskID, nil
}

// 2023-11-14T22:13:20Z
var testNow = time.UnixMilli(1700000000000).UTC()

func fixedClock() time.Time { return testNow }

func validRequest() Request {
	return Request{
		LogGroupName:      "/aws/lambda/demo",
		DestinationBucket: "dest-bucket",
		Region:            "us-east-1",
	}
}

func TestRunExportsFromWatermark(t *testing.T) {
	now := testNow.UnixMilli()
	wm := now - 2*time.Hour.Milliseconds()

	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: wm}
	source := &fakeSource{latest: now - time.Hour.Milliseconds(), latestFound: true, taskID: "task-1"}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Exported(), "expected exported outcome, got %+v", out)
	assert.Equal(t, StatusExported, out.Status)
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, wm, out.From)
	assert.Equal(t, now, out.To)

	// The submitted task covers exactly [watermark, now-1].
	require.NotNil(t, source.lastTask)
	assert.Equal(t, wm, source.lastTask.From)
	assert.Equal(t, now-1, source.lastTask.To)
	assert.Equal(t, "dest-bucket", source.lastTask.Bucket)
}

func TestRunAdvancesWatermarkToNow(t *testing.T) {
	now := testNow.UnixMilli()

	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: now - 100_000}
	source := &fakeSource{latest: now - 1000, latestFound: true, taskID: "task-1"}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Exported())
	assert.Equal(t, watermark.Record{LastExportTime: now}, store.records["/aws/lambda/demo"])
}

func TestRunSkipsWhenNoNewActivity(t *testing.T) {
	now := testNow.UnixMilli()
	wm := now - 2*time.Hour.Milliseconds()

	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: wm}
	// Latest event is older than the watermark.
	source := &fakeSource{latest: now - 3*time.Hour.Milliseconds(), latestFound: true}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Skipped(), "expected skipped outcome, got %+v", out)
	assert.Nil(t, source.lastTask)
	assert.Equal(t, wm, store.records["/aws/lambda/demo"].LastExportTime, "watermark must not move on skip")
}

func TestRunSkipsWhenLatestEqualsWatermark(t *testing.T) {
	now := testNow.UnixMilli()
	wm := now - time.Hour.Milliseconds()

	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: wm}
	source := &fakeSource{latest: wm, latestFound: true}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	assert.True(t, out.Skipped(), "activity must be strictly newer than the watermark")
}

func TestRunSkipsOnActivityCheckError(t *testing.T) {
	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: 1}
	source := &fakeSource{latestErr: errors.New("throttled")}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	assert.True(t, out.Skipped(), "activity check failure must skip, never fail")
	assert.Nil(t, source.lastTask)
}

func TestRunSkipsOnEmptyGroup(t *testing.T) {
	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: 1}
	source := &fakeSource{latestFound: false}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	assert.True(t, out.Skipped())
}

func TestRunFailedSubmissionLeavesWatermark(t *testing.T) {
	now := testNow.UnixMilli()
	wm := now - 2*time.Hour.Milliseconds()

	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: wm}
	source := &fakeSource{latest: now - 1000, latestFound: true, exportErr: errors.New("LimitExceededException")}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Failed())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "LimitExceededException")
	assert.Equal(t, wm, store.records["/aws/lambda/demo"].LastExportTime, "watermark must not move on rejected submission")
	assert.Zero(t, store.puts)
}

func TestRunReportsExportWhenWatermarkWriteFails(t *testing.T) {
	now := testNow.UnixMilli()

	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: now - 100_000}
	store.putErr = errors.New("access denied")
	source := &fakeSource{latest: now - 1000, latestFound: true, taskID: "task-9"}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	// The task id was already obtained; the lost write is a known gap.
	require.True(t, out.Exported())
	assert.Equal(t, "task-9", out.TaskID)
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"missing log group", Request{DestinationBucket: "b", Region: "r"}},
		{"missing bucket", Request{LogGroupName: "g", Region: "r"}},
		{"missing region", Request{LogGroupName: "g", DestinationBucket: "b"}},
		{"all missing", Request{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			source := &fakeSource{}

			e := New(store, source, WithClock(fixedClock))
			out := e.Run(context.Background(), tt.req)

			require.True(t, out.Failed())
			assert.Equal(t, StatusFailed, out.Status)
			assert.Contains(t, out.Error, "missing required parameters")
			assert.Zero(t, store.gets+store.puts, "no store calls on validation failure")
			assert.Zero(t, source.calls, "no source calls on validation failure")
		})
	}
}

func TestRunNoWatermarkUsesCreationTime(t *testing.T) {
	now := testNow.UnixMilli()
	creation := now - 10*24*time.Hour.Milliseconds()

	store := newMemStore()
	source := &fakeSource{
		creationTime:  creation,
		creationFound: true,
		latest:        now - time.Hour.Milliseconds(),
		latestFound:   true,
		taskID:        "task-2",
	}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Exported())
	assert.Equal(t, creation, out.From)
	require.NotNil(t, source.lastTask)
	assert.Equal(t, creation, source.lastTask.From)
	assert.Equal(t, now-1, source.lastTask.To)
	assert.Equal(t, now, store.records["/aws/lambda/demo"].LastExportTime)
}

func TestRunNoWatermarkNoCreationTimeUsesLookback(t *testing.T) {
	now := testNow.UnixMilli()

	store := newMemStore()
	source := &fakeSource{
		creationErr: errors.New("unavailable"),
		latest:      now - 1000,
		latestFound: true,
		taskID:      "task-3",
	}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Exported())
	assert.Equal(t, now-24*time.Hour.Milliseconds(), out.From)
}

func TestRunCorruptWatermarkUsesLookback(t *testing.T) {
	now := testNow.UnixMilli()

	store := newMemStore()
	store.getErr = errors.New("decode watermark: invalid character")
	source := &fakeSource{latest: now - 1000, latestFound: true, taskID: "task-4"}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Exported())
	assert.Equal(t, now-24*time.Hour.Milliseconds(), out.From)
}

func TestRunZeroedWatermarkDoesNotExportFromEpoch(t *testing.T) {
	now := testNow.UnixMilli()

	// A store surfacing a zero-valued record as found (a watermark document
	// that parsed but carried no timestamp) must not anchor the window at
	// epoch 0; the window starts at the lookback default.
	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{}
	source := &fakeSource{latest: now - 1000, latestFound: true, taskID: "task-8"}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Exported())
	assert.Equal(t, now-24*time.Hour.Milliseconds(), out.From)
	require.NotNil(t, source.lastTask)
	assert.Equal(t, now-24*time.Hour.Milliseconds(), source.lastTask.From)
}

func TestRunCustomLookback(t *testing.T) {
	now := testNow.UnixMilli()

	store := newMemStore()
	source := &fakeSource{latest: now - 1000, latestFound: true, taskID: "task-5"}

	e := New(store, source, WithClock(fixedClock), WithLookback(6*time.Hour))
	out := e.Run(context.Background(), validRequest())

	require.True(t, out.Exported())
	assert.Equal(t, now-6*time.Hour.Milliseconds(), out.From)
}

func TestRunDestinationNamespacing(t *testing.T) {
	now := testNow.UnixMilli()
	wm := now - time.Hour.Milliseconds()

	store := newMemStore()
	store.records["/aws/lambda/demo"] = watermark.Record{LastExportTime: wm}
	source := &fakeSource{latest: now - 1000, latestFound: true, taskID: "task-6"}

	e := New(store, source, WithClock(fixedClock))
	out := e.Run(context.Background(), validRequest())
	require.True(t, out.Exported())

	require.NotNil(t, source.lastTask)
	// wm = 2023-11-14T21:13:20Z, now = 2023-11-14T22:13:20Z
	assert.Equal(t, "logs/-aws-lambda-demo/20231114-211320", source.lastTask.Prefix)
	assert.Equal(t, "export--aws-lambda-demo-20231114-221320", source.lastTask.TaskName)
}

func TestRunPrefixOptions(t *testing.T) {
	now := testNow.UnixMilli()

	store := newMemStore()
	store.records["g"] = watermark.Record{LastExportTime: now - 1000}
	source := &fakeSource{latest: now - 1, latestFound: true, taskID: "task-7"}

	e := New(store, source,
		WithClock(fixedClock),
		WithDestinationPrefix("exports/"),
		WithTaskNamePrefix("nightly"),
	)
	out := e.Run(context.Background(), Request{LogGroupName: "g", DestinationBucket: "b", Region: "r"})
	require.True(t, out.Exported())

	require.NotNil(t, source.lastTask)
	assert.True(t, len(source.lastTask.Prefix) > len("exports/g/"))
	assert.Contains(t, source.lastTask.Prefix, "exports/g/")
	assert.Contains(t, source.lastTask.TaskName, "nightly-g-")
}

type panickySource struct{ fakeSource }

func (p *panickySource) LatestEventTime(context.Context, string) (int64, bool, error) {
	panic("boom")
}

func TestRunRecoversPanic(t *testing.T) {
	store := newMemStore()
	e := New(store, &panickySource{}, WithClock(fixedClock))

	out := e.Run(context.Background(), validRequest())
	require.True(t, out.Failed())
	assert.Contains(t, out.Error, "boom")
}
