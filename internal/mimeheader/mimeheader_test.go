package mimeheader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"PlainASCII", "report.pdf", "report.pdf"},
		{"SpaceEscaped", "annual report.pdf", "annual%20report.pdf"},
		{"PlusKeptLiteral", "a+b.txt", "a+b.txt"},
		{"PercentEscaped", "100%.txt", "100%25.txt"},
		{"UTF8ByteWise", "résumé.pdf", "r%C3%A9sum%C3%A9.pdf"},
		{"CJK", "履歴書.txt", "%E5%B1%A5%E6%AD%B4%E6%9B%B8.txt"},
		{"QuotesEscaped", `say "hi".txt`, "say%20%22hi%22.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentEncode(tt.in))
		})
	}
}

func TestPercentDecode(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		for _, s := range []string{
			"report.pdf",
			"annual report.pdf",
			"a+b.txt",
			"100%.txt",
			"résumé.pdf",
			"履歴書.txt",
			"załącznik żółty.png",
		} {
			assert.Equal(t, s, PercentDecode(PercentEncode(s)), "round trip of %q", s)
		}
	})

	t.Run("UnencodedValuePassesThrough", func(t *testing.T) {
		assert.Equal(t, "plain-name.bin", PercentDecode("plain-name.bin"))
	})

	t.Run("InvalidEscapeKeptVerbatim", func(t *testing.T) {
		assert.Equal(t, "50%zz", PercentDecode("50%zz"))
	})

	t.Run("PlusSurvives", func(t *testing.T) {
		// PathUnescape semantics: '+' is a literal, not a space.
		assert.Equal(t, "a+b.txt", PercentDecode("a+b.txt"))
	})
}

func TestContentDisposition(t *testing.T) {
	t.Run("ASCII", func(t *testing.T) {
		got := ContentDisposition("report.pdf")
		assert.Equal(t, `inline; filename="report.pdf"; filename*=utf-8''report.pdf`, got)
	})

	t.Run("Unicode", func(t *testing.T) {
		got := ContentDisposition("résumé.pdf")
		assert.Equal(t, `inline; filename="r_sum_.pdf"; filename*=utf-8''r%C3%A9sum%C3%A9.pdf`, got)
	})

	t.Run("QuoteAndBackslashNeutralized", func(t *testing.T) {
		got := ContentDisposition(`a"b\c.txt`)
		assert.Contains(t, got, `filename="a_b_c.txt"`)
	})
}
