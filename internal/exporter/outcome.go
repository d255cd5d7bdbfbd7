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

import "fmt"

// Outcome statuses follow the HTTP-shaped contract the scheduler consumes.
const (
	StatusExported = 200
	StatusSkipped  = 204
	StatusFailed   = 500
)

// Outcome is the single structured result of one invocation.
type Outcome struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
	From    int64  `json:"from,omitempty"`
	To      int64  `json:"to,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (o Outcome) Exported() bool { return o.Status == StatusExported }
func (o Outcome) Skipped() bool  { return o.Status == StatusSkipped }
func (o Outcome) Failed() bool   { return o.Status == StatusFailed }

func exported(logGroupName, taskID string, from, to int64) Outcome {
	return Outcome{
		Status:  StatusExported,
		Message: fmt.Sprintf("log export task created for %s", logGroupName),
		TaskID:  taskID,
		From:    from,
		To:      to,
	}
}

func skipped(logGroupName string) Outcome {
	return Outcome{
		Status:  StatusSkipped,
		Message: fmt.Sprintf("no new logs detected for %s, skipping export", logGroupName),
	}
}

// Failure builds a failed Outcome for errors that happen before the
// orchestrator can run, such as client construction.
func Failure(logGroupName string, err error) Outcome {
	return failed(logGroupName, err)
}

func failed(logGroupName string, err error) Outcome {
	return Outcome{
		Status:  StatusFailed,
		Message: fmt.Sprintf("export failed for %s", logGroupName),
		Error:   err.Error(),
	}
}
