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

package logsource

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// cwlAPI is the slice of the CloudWatch Logs client the source uses.
type cwlAPI interface {
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	CreateExportTask(ctx context.Context, params *cloudwatchlogs.CreateExportTaskInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateExportTaskOutput, error)
}

type cloudWatchSource struct {
	client cwlAPI
}

var _ Source = (*cloudWatchSource)(nil)

// NewCloudWatchSource returns a Source backed by CloudWatch Logs.
func NewCloudWatchSource(client cwlAPI) Source {
	return &cloudWatchSource{client: client}
}

func (s *cloudWatchSource) CreationTime(ctx context.Context, logGroupName string) (int64, bool, error) {
	// DescribeLogGroups matches by prefix, so filter to the exact name.
	out, err := s.client.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(logGroupName),
	})
	if err != nil {
		return 0, false, fmt.Errorf("describe log groups %s: %w", logGroupName, err)
	}

	for _, group := range out.LogGroups {
		if aws.ToString(group.LogGroupName) != logGroupName {
			continue
		}
		if group.CreationTime == nil {
			return 0, false, nil
		}
		return aws.ToInt64(group.CreationTime), true, nil
	}
	return 0, false, nil
}

func (s *cloudWatchSource) LatestEventTime(ctx context.Context, logGroupName string) (int64, bool, error) {
	out, err := s.client.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(logGroupName),
		OrderBy:      types.OrderByLastEventTime,
		Descending:   aws.Bool(true),
		Limit:        aws.Int32(1),
	})
	if err != nil {
		return 0, false, fmt.Errorf("describe log streams %s: %w", logGroupName, err)
	}

	if len(out.LogStreams) == 0 || out.LogStreams[0].LastEventTimestamp == nil {
		return 0, false, nil
	}
	return aws.ToInt64(out.LogStreams[0].LastEventTimestamp), true, nil
}

func (s *cloudWatchSource) StartExport(ctx context.Context, task ExportTask) (string, error) {
	out, err := s.client.CreateExportTask(ctx, &cloudwatchlogs.CreateExportTaskInput{
		TaskName:          aws.String(task.TaskName),
		LogGroupName:      aws.String(task.LogGroupName),
		From:              aws.Int64(task.From),
		To:                aws.Int64(task.To),
		Destination:       aws.String(task.Bucket),
		DestinationPrefix: aws.String(task.Prefix),
	})
	if err != nil {
		return "", fmt.Errorf("create export task for %s: %w", task.LogGroupName, err)
	}
	return aws.ToString(out.TaskId), nil
}
