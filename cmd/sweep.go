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
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/logship/config"
	"github.com/cardinalhq/logship/internal/awsclient"
)

var groupsFile string

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Export every log group listed in a YAML file",
		Long:  "Run one export invocation per listed log group, sequentially. Failures for one group do not stop the sweep; they are aggregated and reported at the end.",
		RunE:  sweep,
	}

	cmd.Flags().StringVarP(&groupsFile, "groups", "g", "", "Path to group list YAML file (or env:VAR to read contents from an environment variable)")
	_ = cmd.MarkFlagRequired("groups")

	rootCmd.AddCommand(cmd)
}

type groupsConfig struct {
	Version int         `yaml:"version"`
	Groups  []groupSpec `yaml:"groups"`
}

func sweep(_ *cobra.Command, _ []string) error {
	servicename := "sweep"
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

	groups, err := loadGroupsFile(groupsFile)
	if err != nil {
		return err
	}
	if len(groups.Groups) == 0 {
		slog.Warn("group list is empty, nothing to do", slog.String("file", groupsFile))
		return nil
	}

	mgr, err := awsclient.NewManager(doneCtx,
		awsclient.WithAssumeRoleSessionName("logship-sweep"))
	if err != nil {
		return fmt.Errorf("failed to create AWS client manager: %w", err)
	}

	var errs *multierror.Error
	for _, group := range groups.Groups {
		if doneCtx.Err() != nil {
			errs = multierror.Append(errs, fmt.Errorf("sweep interrupted: %w", doneCtx.Err()))
			break
		}

		out := runGroupExport(doneCtx, cfg, mgr, group)
		switch {
		case out.Exported():
			slog.Info("export task created",
				slog.String("logGroup", group.LogGroup),
				slog.String("taskId", out.TaskID),
				slog.Int64("from", out.From),
				slog.Int64("to", out.To))
		case out.Skipped():
			slog.Info("no new logs, skipped", slog.String("logGroup", group.LogGroup))
		default:
			slog.Error("export failed",
				slog.String("logGroup", group.LogGroup),
				slog.String("error", out.Error))
			errs = multierror.Append(errs, fmt.Errorf("%s: %s", group.LogGroup, out.Error))
		}
	}

	return errs.ErrorOrNil()
}

// loadGroupsFile reads the sweep group list. A filename of the form
// "env:VAR" reads the YAML document from that environment variable instead.
func loadGroupsFile(filename string) (*groupsConfig, error) {
	var contents []byte
	if after, ok := strings.CutPrefix(filename, "env:"); ok {
		v := os.Getenv(after)
		if v == "" {
			return nil, fmt.Errorf("environment variable %s is not set", after)
		}
		contents = []byte(v)
	} else {
		var err error
		contents, err = os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read group list from file %s: %w", filename, err)
		}
	}

	var cfg groupsConfig
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group list from %s: %w", filename, err)
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported group list version %d in %s", cfg.Version, filename)
	}
	return &cfg, nil
}
