package embedding

import "testing"

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	got := Normalize("  hello   world  ", NormalizeOptions{})
	if got != "hello world" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestNormalize_StripsAttributionPrefix(t *testing.T) {
	got := Normalize("РИА сообщает: курс вырос", NormalizeOptions{AttributionPrefix: DefaultAttributionPrefixes})
	if got != "курс вырос" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestNormalize_ReplacesURLs(t *testing.T) {
	got := Normalize("see https://example.com/a for details", NormalizeOptions{ReplaceURLs: true})
	if got != "see [URL] for details" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestNormalize_SameTextDifferentPrefixProducesSameNormalizedForm(t *testing.T) {
	opts := NormalizeOptions{AttributionPrefix: DefaultAttributionPrefixes}
	a := Normalize("Источник: Reuters курс вырос", opts)
	b := Normalize("курс вырос", opts)
	if a != b {
		t.Fatalf("expected attribution-stripped forms to match: %q vs %q", a, b)
	}
}
