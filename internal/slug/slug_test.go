package slug

import (
	"regexp"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Cześć", "czesc"},
		{"Dzień dobry!", "dzien_dobry"},
		{"already_canonical_3", "already_canonical_3"},
		{"  Hello,   World  ", "hello_world"},
		{"Où est la gare?", "ou_est_la_gare"},
		{"!!!", ""},
		{"---", ""},
		{"3 kawy", "3_kawy"},
		{"Na zdrowie…", "na_zdrowie"},
	}
	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

var slugShape = regexp.MustCompile(`^[a-z0-9_]*$`)

func TestSlugify_shape(t *testing.T) {
	inputs := []string{
		"Cześć", "¿Qué tal?", "__x__", "a--b", "Łódź", "ŚWIĘTO", "tab\tand\nnewline",
	}
	for _, in := range inputs {
		got := Slugify(in)
		if !slugShape.MatchString(got) {
			t.Errorf("Slugify(%q) = %q: outside [a-z0-9_]", in, got)
		}
		if len(got) > 0 && (got[0] == '_' || got[len(got)-1] == '_') {
			t.Errorf("Slugify(%q) = %q: leading/trailing underscore", in, got)
		}
		if regexp.MustCompile(`__`).MatchString(got) {
			t.Errorf("Slugify(%q) = %q: doubled underscore", in, got)
		}
	}
}

func TestSlugify_idempotent(t *testing.T) {
	inputs := []string{"", "Cześć", "Dzień dobry!", "a b c", "już_gotowe", "Pies & kot"}
	for _, in := range inputs {
		once := Slugify(in)
		if twice := Slugify(once); twice != once {
			t.Errorf("Slugify not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}
