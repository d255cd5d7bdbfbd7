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

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/logship/config"
	"github.com/cardinalhq/logship/internal/awsclient"
	"github.com/cardinalhq/logship/internal/exporter"
	"github.com/cardinalhq/logship/internal/logctx"
	"github.com/cardinalhq/logship/internal/logsource"
	"github.com/cardinalhq/logship/internal/watermark"
)

func init() {
	var spec groupSpec

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one log group to S3",
		Long:  "Run a single export invocation: check the group for activity since the last watermark and submit an export task if there is any. The outcome is printed as JSON on stdout.",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "export"
			doneCtx, doneFx, err := setupTelemetry(servicename)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			mgr, err := awsclient.NewManager(doneCtx,
				awsclient.WithAssumeRoleSessionName("logship-export"))
			if err != nil {
				return fmt.Errorf("failed to create AWS client manager: %w", err)
			}

			out := runGroupExport(doneCtx, cfg, mgr, spec)

			enc := json.NewEncoder(os.Stdout)
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("failed to encode outcome: %w", err)
			}
			if out.Failed() {
				return errors.New(out.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&spec.LogGroup, "log-group", "", "CloudWatch log group name to export")
	cmd.Flags().StringVar(&spec.Bucket, "destination-bucket", "", "S3 bucket exports and watermarks are written to")
	cmd.Flags().StringVar(&spec.Region, "region", "", "AWS region of the log group")
	cmd.Flags().StringVar(&spec.Role, "role", "", "IAM role ARN to assume (optional)")

	rootCmd.AddCommand(cmd)
}

// groupSpec identifies one log group to export. It doubles as the sweep
// file entry, so the yaml tags live here.
type groupSpec struct {
	LogGroup string `yaml:"log_group"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Role     string `yaml:"role,omitempty"`
}

// runGroupExport wires the AWS-backed store and source for one group and
// runs a single invocation. All failures come back as a failed Outcome, not
// an error, so callers always get exactly one structured result.
func runGroupExport(ctx context.Context, cfg *config.Config, mgr *awsclient.Manager, spec groupSpec) exporter.Outcome {
	ctx = logctx.With(ctx,
		slog.String("logGroup", spec.LogGroup),
		slog.String("runID", uuid.NewString()),
	)

	s3opts := []awsclient.S3Option{awsclient.WithRegion(spec.Region)}
	cwlopts := []awsclient.CWLOption{awsclient.WithCWLRegion(spec.Region)}
	if spec.Role != "" {
		s3opts = append(s3opts, awsclient.WithRole(spec.Role))
		cwlopts = append(cwlopts, awsclient.WithCWLRole(spec.Role))
	}

	s3c, err := mgr.GetS3(ctx, s3opts...)
	if err != nil {
		return exporter.Failure(spec.LogGroup, fmt.Errorf("failed to create S3 client: %w", err))
	}
	cwlc, err := mgr.GetCloudWatchLogs(ctx, cwlopts...)
	if err != nil {
		return exporter.Failure(spec.LogGroup, fmt.Errorf("failed to create CloudWatch Logs client: %w", err))
	}

	store := watermark.NewS3Store(s3c.Client, spec.Bucket, cfg.Export.WatermarkPrefix)
	source := logsource.NewCloudWatchSource(cwlc.Client)

	e := exporter.New(store, source,
		exporter.WithLookback(cfg.Export.Lookback),
		exporter.WithDestinationPrefix(cfg.Export.DestinationPrefix),
		exporter.WithTaskNamePrefix(cfg.Export.TaskNamePrefix),
	)

	return e.Run(ctx, exporter.Request{
		LogGroupName:      spec.LogGroup,
		DestinationBucket: spec.Bucket,
		Region:            spec.Region,
	})
}
