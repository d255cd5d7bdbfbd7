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

// Package logsource abstracts the managed log service the exporter reads
// from. The exporter only ever needs three questions answered: when was the
// group created, when did it last see an event, and can you start an export.
package logsource

import "context"

// ExportTask describes one asynchronous export request. The log service
// copies events in [From, To] (ms since epoch) into the destination bucket
// under Prefix and returns an opaque task id. Completion is not tracked here.
type ExportTask struct {
	TaskName     string
	LogGroupName string
	From         int64
	To           int64
	Bucket       string
	Prefix       string
}

// Source is the narrow capability surface over the log service.
type Source interface {
	// CreationTime returns the group's creation timestamp in ms.
	// found is false when the group does not exist.
	CreationTime(ctx context.Context, logGroupName string) (ts int64, found bool, err error)

	// LatestEventTime returns the last-event timestamp of the most recently
	// active stream in the group. found is false when the group has no
	// streams or no stream carries an event timestamp yet.
	LatestEventTime(ctx context.Context, logGroupName string) (ts int64, found bool, err error)

	// StartExport submits the export task and returns its id.
	StartExport(ctx context.Context, task ExportTask) (taskID string, err error)
}
