package token

import "testing"

func TestHashSHA256Hex(t *testing.T) {
	t.Parallel()

	// sha256("secret1")
	const want = "5b11618c2e44027877d0cd0921ed166b9f176f50587fc91e7534dd2946db77d6"
	if got := HashSHA256Hex("secret1"); got != want {
		t.Fatalf("HashSHA256Hex=%q want %q", got, want)
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	if Fingerprint("") != "" {
		t.Fatalf("empty secret must have empty fingerprint")
	}
	fp := Fingerprint("tok-123")
	if len(fp) != 12 {
		t.Fatalf("unexpected fingerprint length %d", len(fp))
	}
	if fp != HashSHA256Hex("tok-123")[:12] {
		t.Fatalf("fingerprint must be a digest prefix")
	}
}

func TestBearer_RoundTrip(t *testing.T) {
	t.Parallel()

	h := BearerHeader("abc.def")
	if h != "Bearer abc.def" {
		t.Fatalf("BearerHeader=%q", h)
	}

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: h, want: "abc.def", ok: true},
		{in: "bearer xyz", want: "xyz", ok: true},
		{in: "Bearer   ", ok: false},
		{in: "Basic abc", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseBearer(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseBearer(%q)=(%q,%v) want (%q,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
