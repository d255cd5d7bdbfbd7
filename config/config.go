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

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	Export ExportConfig `mapstructure:"export"`
}

// ExportConfig tunes the export orchestrator. The per-invocation inputs
// (log group, bucket, region) come from flags or the sweep file, not here.
type ExportConfig struct {
	// WatermarkPrefix is the key prefix watermark documents live under in
	// the destination bucket.
	WatermarkPrefix string `mapstructure:"watermark_prefix"`

	// DestinationPrefix is the key prefix exported log objects land under.
	DestinationPrefix string `mapstructure:"destination_prefix"`

	// TaskNamePrefix is the prefix of generated export task names.
	TaskNamePrefix string `mapstructure:"task_name_prefix"`

	// Lookback bounds the first export when neither a watermark nor the
	// log group creation time can be resolved.
	Lookback time.Duration `mapstructure:"lookback"`
}

func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		WatermarkPrefix:   "watermarks",
		DestinationPrefix: "logs",
		TaskNamePrefix:    "export",
		Lookback:          24 * time.Hour,
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "LOGSHIP" and the dot character
// in keys is replaced by an underscore. For example, "export.lookback"
// becomes "LOGSHIP_EXPORT_LOOKBACK".
func Load() (*Config, error) {
	cfg := &Config{
		Export: DefaultExportConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LOGSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
