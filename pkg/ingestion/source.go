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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/kraklabs/mlingest/pkg/config"
	"github.com/kraklabs/mlingest/pkg/dataset"
)

// Source types accepted in data_ingestion.source_type.
const (
	SourceLocalCSV = "local_csv"
	SourceDatabase = "database"
	SourceAPI      = "api"
)

// InputHook wraps the raw input stream of a source before it is decoded.
// size is the input length in bytes, or -1 when unknown.
type InputHook func(r io.Reader, size int64) io.Reader

// SourceReader reads the dataset a configuration points at.
type SourceReader struct {
	logger *slog.Logger
	hook   InputHook
}

// NewSourceReader creates a reader. hook may be nil.
func NewSourceReader(logger *slog.Logger, hook InputHook) *SourceReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceReader{logger: logger, hook: hook}
}

// ReadSource reads the configured source with a default SourceReader.
func ReadSource(ctx context.Context, cfg *config.Config) (*dataset.Dataset, error) {
	return NewSourceReader(nil, nil).Read(ctx, cfg)
}

// Read dispatches on data_ingestion.source_type. Failures are *SourceError
// values; use IsSoftFailure to tell "no dataset" from a propagating error.
func (s *SourceReader) Read(ctx context.Context, cfg *config.Config) (*dataset.Dataset, error) {
	if err := cfg.Require(config.KeySourceType); err != nil {
		return nil, err
	}

	sourceType := cfg.DataIngestion.SourceType
	switch sourceType {
	case SourceLocalCSV:
		return s.readLocalCSV(ctx, cfg)
	case SourceDatabase, SourceAPI:
		return nil, &SourceError{
			Kind:   ErrUnsupportedSource,
			Source: sourceType,
			Err:    fmt.Errorf("source type %q is not implemented", sourceType),
		}
	default:
		return nil, &SourceError{
			Kind:   ErrUnsupportedSource,
			Source: sourceType,
			Err:    fmt.Errorf("unknown source type %q", sourceType),
		}
	}
}

func (s *SourceReader) readLocalCSV(ctx context.Context, cfg *config.Config) (*dataset.Dataset, error) {
	fail := func(kind error, path string, err error) error {
		return &SourceError{Kind: kind, Source: SourceLocalCSV, Path: path, Err: err}
	}

	if err := cfg.Require(config.KeyRawDataPath); err != nil {
		return nil, fail(ErrIngestion, "", err)
	}
	path := cfg.RawDataPath

	sep, err := separatorRune(cfg.DataIngestion.EffectiveSeparator())
	if err != nil {
		return nil, fail(ErrIngestion, path, err)
	}
	enc, err := lookupEncoding(cfg.DataIngestion.EffectiveEncoding())
	if err != nil {
		return nil, fail(ErrIngestion, path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("ingestion.read.start",
		"source", SourceLocalCSV,
		"path", path,
		"separator", string(sep),
		"encoding", cfg.DataIngestion.EffectiveEncoding(),
	)
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fail(ErrNotFound, path, err)
		}
		return nil, fail(ErrIngestion, path, err)
	}
	defer f.Close()

	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	var r io.Reader = f
	if s.hook != nil {
		r = s.hook(r, size)
	}
	r = decodeReader(&contextReader{ctx: ctx, r: r}, enc)

	ds, err := dataset.Read(r, dataset.ReadOptions{Separator: sep})
	if err != nil {
		var pe *dataset.ParseError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &pe):
			return nil, fail(ErrParse, path, err)
		default:
			return nil, fail(ErrIngestion, path, err)
		}
	}

	s.logger.Info("ingestion.read.done",
		"path", path,
		"rows", ds.NumRows(),
		"columns", ds.NumColumns(),
		"duration", time.Since(start),
	)
	return ds, nil
}

// separatorRune accepts a separator of exactly one character.
func separatorRune(sep string) (rune, error) {
	r, size := utf8.DecodeRuneInString(sep)
	if size == 0 || size != len(sep) || !dataset.ValidSeparator(r) {
		return 0, fmt.Errorf("separator %q must be a single character other than quote or newline", sep)
	}
	return r, nil
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
