package server

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{`say "hi"`, "say &quot;hi&quot;"},
		{"it's", "it&#39;s"},
		{"5 & 6", "5 &amp; 6"},
		{"&lt;already&gt;", "&lt;already&gt;"},
		{"&amp;", "&amp;"},
		{"&ampersand", "&amp;ampersand"},
		{"a<b>c\"d'e&f", "a&lt;b&gt;c&quot;d&#39;e&amp;f"},
		{"", ""},
		{"héllo wörld 🌍", "héllo wörld 🌍"},
	}

	for _, c := range cases {
		if got := Sanitize(c.in); got != c.want {
			t.Errorf("Sanitize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"<script>alert('xss & more')</script>",
		`"quoted" & <tagged>`,
		"&amp;&lt;&gt;&quot;&#39;",
		"plain text",
		"&&&<<<>>>",
	}

	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q != %q", in, once, twice)
		}
		for _, c := range []string{"<", ">", `"`} {
			if strings.Contains(once, c) {
				t.Errorf("Sanitize(%q) = %q still contains %q", in, once, c)
			}
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("1.2.3.4", "GB")
	b := Fingerprint("1.2.3.4", "GB")
	if a != b {
		t.Errorf("fingerprint not stable: %s != %s", a, b)
	}

	if Fingerprint("1.2.3.4", "GB") == Fingerprint("4.3.2.1", "GB") {
		t.Error("different inputs should differ")
	}

	// order sensitive
	if Fingerprint("a", "b") == Fingerprint("b", "a") {
		t.Error("hash should be order sensitive")
	}

	if len(a) != 8 {
		t.Errorf("expected 8 hex chars, got %q", a)
	}
}

func TestValidIdentifier(t *testing.T) {
	valid := []string{"abc", "Alice_01", "a-b-c", strings.Repeat("x", 64)}
	invalid := []string{"", "ab", "has space", "éclair", "semi;colon", strings.Repeat("x", 65)}

	for _, id := range valid {
		if !ValidIdentifier(id) {
			t.Errorf("%q should be valid", id)
		}
	}
	for _, id := range invalid {
		if ValidIdentifier(id) {
			t.Errorf("%q should be invalid", id)
		}
	}
}

func TestValidCoords(t *testing.T) {
	ok := [][2]float64{{0, 0}, {-90, -180}, {90, 180}, {51.5, -0.12}}
	bad := [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -181}}

	for _, c := range ok {
		if !ValidCoords(c[0], c[1]) {
			t.Errorf("(%v, %v) should be valid", c[0], c[1])
		}
	}
	for _, c := range bad {
		if ValidCoords(c[0], c[1]) {
			t.Errorf("(%v, %v) should be invalid", c[0], c[1])
		}
	}
}

func TestValidReaction(t *testing.T) {
	valid := []string{"👍", "🎉", "👍👍", "❤️", "✨"}
	invalid := []string{"", "a", "ab", "👍x", "👍👍👍", "<b>", "  "}

	for _, e := range valid {
		if !ValidReaction(e) {
			t.Errorf("%q should be a valid reaction", e)
		}
	}
	for _, e := range invalid {
		if ValidReaction(e) {
			t.Errorf("%q should be invalid", e)
		}
	}
}
