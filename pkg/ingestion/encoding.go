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
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	errUnknownEncoding = errors.New("unknown encoding")

	// errUndecodable is returned when input bytes have no mapping in a
	// non-UTF-8 source encoding.
	errUndecodable = errors.New("input is not valid in the configured encoding")
)

// encodingAliases maps common spellings to a name the indexes know.
var encodingAliases = map[string]string{
	"utf8":     "utf-8",
	"u8":       "utf-8",
	"utf8-sig": "utf-8-sig",
	"ascii":    "us-ascii",
	"cp1250":   "windows-1250",
	"cp1251":   "windows-1251",
	"cp1252":   "windows-1252",
	"cp1253":   "windows-1253",
	"cp1254":   "windows-1254",
	"cp1257":   "windows-1257",
	"cp437":    "ibm437",
	"cp850":    "ibm850",
	"sjis":     "shift_jis",
	"eucjp":    "euc-jp",
	"euckr":    "euc-kr",
}

// lookupEncoding resolves a text encoding name. UTF-8 input may start with
// a byte order mark, which is dropped.
func lookupEncoding(name string) (encoding.Encoding, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	key := strings.ReplaceAll(lower, "_", "-")
	if alias, ok := encodingAliases[key]; ok {
		key = alias
	}

	switch key {
	case "", "utf-8", "utf-8-sig":
		return unicode.UTF8BOM, nil
	case "latin1", "latin-1", "l1", "iso-8859-1", "iso8859-1", "8859":
		// htmlindex treats latin1 as windows-1252.
		return charmap.ISO8859_1, nil
	case "utf-16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	}

	for _, candidate := range []string{key, lower} {
		if enc, err := htmlindex.Get(candidate); err == nil {
			return enc, nil
		}
		if enc, err := ianaindex.IANA.Encoding(candidate); err == nil && enc != nil {
			return enc, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errUnknownEncoding, name)
}

// decodeReader returns r decoded from enc into UTF-8. Bytes that are not
// valid in enc make the returned reader fail instead of being replaced:
// UTF-8 input is validated before its byte order mark is dropped, and any
// other decoder's replacement characters are rejected.
func decodeReader(r io.Reader, enc encoding.Encoding) io.Reader {
	if enc == unicode.UTF8BOM {
		return transform.NewReader(r, transform.Chain(encoding.UTF8Validator, enc.NewDecoder()))
	}
	return transform.NewReader(r, transform.Chain(enc.NewDecoder(), rejectReplacement{}))
}

// rejectReplacement copies UTF-8 text and fails on U+FFFD, which x/text
// decoders emit for undecodable input.
type rejectReplacement struct{ transform.NopResetter }

func (rejectReplacement) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError {
			if size <= 1 && !atEOF && !utf8.FullRune(src[nSrc:]) {
				return nDst, nSrc, transform.ErrShortSrc
			}
			return nDst, nSrc, errUndecodable
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		copy(dst[nDst:], src[nSrc:nSrc+size])
		nDst += size
		nSrc += size
	}
	return nDst, nSrc, nil
}
