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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"go.opentelemetry.io/otel/trace"
)

type CloudWatchLogsClient struct {
	Client *cloudwatchlogs.Client
	Tracer trace.Tracer
}

type cwlConfig struct {
	RoleARN      string
	Region       string
	applyConfigs []func(*aws.Config)
	applyCWLs    []func(*cloudwatchlogs.Options)
}

// CWLOption is a functional option for GetCloudWatchLogs.
type CWLOption func(*cwlConfig)

// WithCWLRole sets the IAM Role ARN to assume (empty = no assume).
func WithCWLRole(roleARN string) CWLOption {
	return func(c *cwlConfig) {
		c.RoleARN = roleARN
	}
}

// WithCWLRegion overrides the AWS region for this call.
func WithCWLRegion(region string) CWLOption {
	return func(c *cwlConfig) {
		c.Region = region
	}
}

func (m *Manager) GetCloudWatchLogs(ctx context.Context, opts ...CWLOption) (*CloudWatchLogsClient, error) {
	cc := cwlConfig{
		Region: m.baseCfg.Region,
	}
	for _, o := range opts {
		o(&cc)
	}

	cfg := m.configFor(cc.Region, cc.RoleARN, cc.applyConfigs)
	client := cloudwatchlogs.NewFromConfig(cfg, cc.applyCWLs...)

	return &CloudWatchLogsClient{Client: client, Tracer: m.tracer}, nil
}
