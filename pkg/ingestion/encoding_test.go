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
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

func TestLookupEncoding(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"utf-8", "aé", "aé"},
		{"UTF8", "aé", "aé"},
		{"utf-8-sig", "\ufeffab", "ab"},
		{"utf_8_sig", "\ufeffab", "ab"},
		{"latin1", "caf\xe9", "café"},
		{"ISO-8859-1", "\x80", "\u0080"},
		{"cp1252", "\x80", "€"},
		{"windows-1252", "\x93q\x94", "“q”"},
		{"ascii", "plain", "plain"},
		{"shift_jis", "\x82\xa0", "あ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := lookupEncoding(tt.name)
			require.NoError(t, err)

			got, err := io.ReadAll(decodeReader(strings.NewReader(tt.input), enc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestLookupEncoding_Unknown(t *testing.T) {
	_, err := lookupEncoding("not-an-encoding")
	assert.ErrorIs(t, err, errUnknownEncoding)
	assert.Contains(t, err.Error(), "not-an-encoding")
}

func TestDecodeReader_InvalidUTF8(t *testing.T) {
	tests := []string{
		"name,city\nJos\xe9,M\xfcnchen\n",
		"\xef\xbb\xbfa\n\xff\n",
		"a\n\xe2\x82",
	}
	for _, input := range tests {
		_, err := io.ReadAll(decodeReader(strings.NewReader(input), unicode.UTF8BOM))
		assert.ErrorIs(t, err, encoding.ErrInvalidUTF8, "input %q", input)
	}
}

func TestDecodeReader_KeepsLiteralCharsOfSingleByteEncodings(t *testing.T) {
	got, err := io.ReadAll(decodeReader(strings.NewReader("\xff\xe9"), charmap.ISO8859_1))
	require.NoError(t, err)
	assert.Equal(t, "ÿé", string(got))
}

func TestRejectReplacement(t *testing.T) {
	got, err := io.ReadAll(transform.NewReader(strings.NewReader("aé€"), rejectReplacement{}))
	require.NoError(t, err)
	assert.Equal(t, "aé€", string(got))

	_, err = io.ReadAll(transform.NewReader(strings.NewReader("a\ufffdb"), rejectReplacement{}))
	assert.ErrorIs(t, err, errUndecodable)
}
