// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the ingestion stage configuration document.
//
// The document is a YAML mapping:
//
//	data_ingestion:
//	  source_type: local_csv
//	  separator: ","
//	  encoding: utf-8
//	raw_data_path: data/raw/train.csv
//	processed_data_path: data/processed
//	mlflow_server_uri: http://localhost:5000
//	experiment_name: ingestion
//
// Loading never checks for required keys. Components call Require for the
// keys they are about to use, so an absent key fails where it is read.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when no path is given.
const DefaultPath = "configs/main_config.yaml"

// Keys of the configuration document, as accepted by Require.
const (
	KeyDataIngestion     = "data_ingestion"
	KeySourceType        = "data_ingestion.source_type"
	KeySeparator         = "data_ingestion.separator"
	KeyEncoding          = "data_ingestion.encoding"
	KeyRawDataPath       = "raw_data_path"
	KeyProcessedDataPath = "processed_data_path"
	KeyMLflowServerURI   = "mlflow_server_uri"
	KeyExperimentName    = "experiment_name"
)

// Defaults applied when the ingestion section omits a value.
const (
	DefaultSeparator = ","
	DefaultEncoding  = "utf-8"
)

// Config is the parsed configuration document.
type Config struct {
	DataIngestion     Ingestion `yaml:"data_ingestion"`
	RawDataPath       string    `yaml:"raw_data_path"`
	ProcessedDataPath string    `yaml:"processed_data_path"`
	MLflowServerURI   string    `yaml:"mlflow_server_uri"`
	ExperimentName    string    `yaml:"experiment_name"`

	// Path is the file the document was read from.
	Path string `yaml:"-"`

	present map[string]bool
}

// Ingestion is the data_ingestion section. Every key of the section is kept
// in Params, in document order, so it can be recorded verbatim.
type Ingestion struct {
	SourceType string
	Separator  string
	Encoding   string
	Params     []Param

	present map[string]bool
}

// Param is one key/value pair of the ingestion section, value rendered as text.
type Param struct {
	Key   string
	Value string
}

// UnmarshalYAML decodes the section while preserving key order.
func (in *Ingestion) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping", node.Line, KeyDataIngestion)
	}
	in.present = make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, valNode := node.Content[i].Value, node.Content[i+1]

		var val any
		if err := valNode.Decode(&val); err != nil {
			return fmt.Errorf("line %d: %s.%s: %w", valNode.Line, KeyDataIngestion, key, err)
		}
		text := formatValue(val)
		in.Params = append(in.Params, Param{Key: key, Value: text})
		in.present[key] = val != nil

		switch key {
		case "source_type":
			in.SourceType = text
		case "separator":
			in.Separator = text
		case "encoding":
			in.Encoding = text
		}
	}
	return nil
}

// EffectiveSeparator returns the configured separator or the default comma.
func (in Ingestion) EffectiveSeparator() string {
	if in.Separator == "" {
		return DefaultSeparator
	}
	return in.Separator
}

// EffectiveEncoding returns the configured text encoding or utf-8.
func (in Ingestion) EffectiveEncoding() string {
	if in.Encoding == "" {
		return DefaultEncoding
	}
	return in.Encoding
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	var root yaml.Node
	if err := yaml.NewDecoder(f).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			err = errEmptyDocument
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	return fromNode(&root, path)
}

// Parse parses a configuration document held in memory. path is only used
// for error messages.
func Parse(data []byte, path string) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return fromNode(&root, path)
}

func fromNode(root *yaml.Node, path string) (*Config, error) {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &LoadError{Path: path, Err: errEmptyDocument}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &LoadError{Path: path, Err: errNotMapping}
	}

	cfg := &Config{Path: path}
	if err := doc.Decode(cfg); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	cfg.present = make(map[string]bool, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		cfg.present[doc.Content[i].Value] = doc.Content[i+1].Tag != "!!null"
	}
	return cfg, nil
}

// Require fails with a MissingKeyError for the first key that is absent or
// empty in the document.
func (c *Config) Require(keys ...string) error {
	for _, key := range keys {
		if !c.has(key) {
			return &MissingKeyError{Key: key, Path: c.Path}
		}
	}
	return nil
}

func (c *Config) has(key string) bool {
	switch key {
	case KeyDataIngestion:
		return c.present[KeyDataIngestion]
	case KeySourceType:
		return c.DataIngestion.present["source_type"] && c.DataIngestion.SourceType != ""
	case KeySeparator:
		return c.DataIngestion.present["separator"]
	case KeyEncoding:
		return c.DataIngestion.present["encoding"]
	case KeyRawDataPath:
		return c.present[key] && c.RawDataPath != ""
	case KeyProcessedDataPath:
		return c.present[key] && c.ProcessedDataPath != ""
	case KeyMLflowServerURI:
		return c.present[key] && c.MLflowServerURI != ""
	case KeyExperimentName:
		return c.present[key] && c.ExperimentName != ""
	default:
		return c.present[key]
	}
}

// formatValue renders a decoded YAML value the way it is logged as a
// tracking parameter. Top-level booleans are spelled True and False, as
// MLflow's Python client records them.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
