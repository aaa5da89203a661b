package planner

import "testing"

func TestEncodeBase58KnownVectors(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"\x00":    "1",
		"\x00\x00": "11",
		"hello":   "Cn8eVZg",
	}
	for in, want := range cases {
		got := EncodeBase58([]byte(in))
		if got != want {
			t.Errorf("EncodeBase58(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodeBase58Deterministic(t *testing.T) {
	b := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03}
	a := EncodeBase58(b)
	c := EncodeBase58(b)
	if a != c {
		t.Fatalf("non-deterministic encoding: %q != %q", a, c)
	}
}
