package sefaria

import (
	"encoding/json"
	"testing"
)

func TestRefURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "comma and spaces",
			in:   "Shulchan Arukh, Orach Chayim 263",
			want: "https://www.sefaria.org/Shulchan_Arukh%2C_Orach_Chayim_263?lang=bi",
		},
		{
			name: "collapses internal whitespace",
			in:   "  Yoma   85b ",
			want: "https://www.sefaria.org/Yoma_85b?lang=bi",
		},
		{
			name: "verse ref",
			in:   "Genesis 1:1",
			want: "https://www.sefaria.org/Genesis_1%3A1?lang=bi",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := RefURL(tt.in); got != tt.want {
				t.Fatalf("RefURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFlattenText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain string", in: `"In the beginning"`, want: "In the beginning"},
		{name: "nested arrays", in: `[["a","b"],["","c"],[[["d"]]]]`, want: "a\nb\nc\nd"},
		{name: "drops empties", in: `["", ["  "], "x"]`, want: "x"},
		{name: "strips markup", in: `["<b>bold</b> text"]`, want: "bold text"},
		{name: "empty input", in: `[]`, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := FlattenText(json.RawMessage(tt.in)); got != tt.want {
				t.Fatalf("FlattenText(%s) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()
	if got := StripHTML("<i data-x='1'>foo</i>\n\n  <br/>bar"); got != "foo bar" {
		t.Fatalf("StripHTML = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	s, cut := Truncate("abcdef", 4)
	if s != "abcd" || !cut {
		t.Fatalf("Truncate = %q, %v", s, cut)
	}
	s, cut = Truncate("abc", 4)
	if s != "abc" || cut {
		t.Fatalf("Truncate under limit = %q, %v", s, cut)
	}
	// Rune-safe for Hebrew.
	s, cut = Truncate("שלום עולם", 4)
	if s != "שלום" || !cut {
		t.Fatalf("Truncate hebrew = %q, %v", s, cut)
	}
}

func TestHasHebrew(t *testing.T) {
	t.Parallel()
	if !HasHebrew("פיקוח נפש") || HasHebrew("pikuach nefesh") {
		t.Fatal("HasHebrew misclassified")
	}
}
