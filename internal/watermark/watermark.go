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

// Package watermark persists the per-log-group export watermark: a single
// JSON document recording the upper bound of previously exported data.
// The document is overwritten on every successful export, never merged.
// Concurrent writers for the same group race last-writer-wins; that is an
// accepted limitation, no conditional put is attempted.
package watermark

import (
	"context"
	"strings"
)

// Record is the persisted watermark document for one log group.
type Record struct {
	LastExportTime int64 `json:"last_export_time"`
}

// Store reads and writes watermark records.
type Store interface {
	// Get returns the record for the group. found is false when no document
	// exists; a non-nil error means the document could not be read or parsed.
	Get(ctx context.Context, logGroupName string) (rec Record, found bool, err error)

	// Put overwrites the record for the group.
	Put(ctx context.Context, logGroupName string, rec Record) error
}

// Key derives the object key for a log group's watermark document. Path
// separators in the group name are flattened to hyphens so each group maps
// to a single flat key under the prefix.
func Key(prefix, logGroupName string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + strings.ReplaceAll(logGroupName, "/", "-") + ".json"
}
