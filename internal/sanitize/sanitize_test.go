package sanitize

import "testing"

func TestText_Idempotent(t *testing.T) {
	inputs := []string{
		"hello   world  ",
		"line1\nline2\ttabbed",
		"bad\x00null\x07bytes",
		"zero​width\uFEFFchars",
		"bidi‪override‬",
		"  leading and trailing  ",
	}
	opts := DefaultOptions()
	for _, in := range inputs {
		once := Text(in, opts)
		twice := Text(once, opts)
		if once != twice {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestText_StripsControlAndNull(t *testing.T) {
	got := Text("Hello\x00World\x07Test", DefaultOptions())
	for _, b := range []byte(got) {
		if b == 0x00 || b == 0x07 {
			t.Fatalf("hazardous byte survived sanitization: %q", got)
		}
	}
}

func TestText_StripsZeroWidthAndBidi(t *testing.T) {
	got := Text("a​b‪c\uFEFFd", DefaultOptions())
	for _, r := range []rune{'​', '‪', '\uFEFF'} {
		for _, g := range got {
			if g == r {
				t.Fatalf("expected %U stripped, got %q", r, got)
			}
		}
	}
}

func TestText_PreservesNewlinesWhenAllowed(t *testing.T) {
	got := Text("line1\nline2", Options{MaxLength: 1000, AllowNewlines: true})
	if got != "line1\nline2" {
		t.Fatalf("expected newline preserved, got %q", got)
	}
}

func TestText_TruncatesToMaxLength(t *testing.T) {
	long := make([]byte, 0, 5000)
	for i := 0; i < 5000; i++ {
		long = append(long, 'a')
	}
	got := Text(string(long), Options{MaxLength: 100, AllowNewlines: true})
	if len([]rune(got)) != 100 {
		t.Fatalf("expected length 100, got %d", len([]rune(got)))
	}
}

func TestText_EmptyInput(t *testing.T) {
	if got := Text("", DefaultOptions()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestText_ReplacesURLs(t *testing.T) {
	got := Text("see https://example.com/path for details", Options{MaxLength: 1000, AllowNewlines: true, ReplaceURLs: true})
	if got != "see [URL] for details" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestPhone_ValidatesFormat(t *testing.T) {
	cleaned, ok := Phone("+1 (555) 123-4567")
	if !ok {
		t.Fatalf("expected valid phone, got cleaned=%q ok=%v", cleaned, ok)
	}
	if cleaned != "+15551234567" {
		t.Fatalf("unexpected cleaned phone: %q", cleaned)
	}
}

func TestPhone_RejectsTooShort(t *testing.T) {
	_, ok := Phone("12345")
	if ok {
		t.Fatal("expected short phone to be rejected")
	}
}

func TestMaskPhone(t *testing.T) {
	masked := MaskPhone("+15551234567")
	if masked != "+155****4567" {
		t.Fatalf("unexpected mask: %q", masked)
	}
	if MaskPhone("123") != "***" {
		t.Fatal("expected full mask for short input")
	}
	if MaskPhone("12345678") != "1234****5678" {
		t.Fatalf("unexpected mask for 8-char boundary: %q", MaskPhone("12345678"))
	}
}

func TestUsername_StripsNewlines(t *testing.T) {
	got := Username("bad\nname\x00here")
	if got != "badnamehere" {
		t.Fatalf("unexpected username: %q", got)
	}
}
