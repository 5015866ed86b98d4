// Package mimeheader encodes file metadata for transport in HTTP headers.
//
// Object stores and the serving layer carry filenames in headers, which are
// restricted to ASCII. Filenames are percent-encoded on write and decoded on
// read; the safe set matches RFC 5987 attr-char, so the same encoder also
// produces the extended filename parameter of a Content-Disposition header.
package mimeheader

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

func isAttrChar(c byte) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
		return true
	}
	switch c {
	case '!', '#', '$', '&', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// PercentEncode percent-encodes a UTF-8 string byte by byte, leaving only
// attr-char literals in place.
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

// PercentDecode reverses PercentEncode. Values written by other tools
// without encoding pass through unchanged, including any that fail to parse
// as percent escapes.
func PercentDecode(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// ContentDisposition renders an inline disposition per RFC 6266, carrying
// the filename twice: a plain ASCII fallback for old clients and the
// RFC 5987 encoded form that survives any UTF-8 name.
func ContentDisposition(filename string) string {
	var b strings.Builder
	b.WriteString(`inline; filename="`)
	b.WriteString(asciiFallback(filename))
	b.WriteString(`"; filename*=utf-8''`)
	b.WriteString(PercentEncode(filename))
	return b.String()
}

// asciiFallback substitutes underscores for every byte that cannot appear in
// a quoted-string header parameter.
func asciiFallback(filename string) string {
	var b strings.Builder
	b.Grow(len(filename))
	for _, r := range filename {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
