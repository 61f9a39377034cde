package identity

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const sampleHex = "a1b2c3d4e5f6a7b8c9d0a1b2c3d4e5f6a7b8c9d0a1b2c3d4e5f6a7b8c9d0a1b2"

func TestParse_RoundTrip(t *testing.T) {
	id, err := Parse(sampleHex)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.String() != sampleHex {
		t.Errorf("round trip: got %s, want %s", id.String(), sampleHex)
	}
}

func TestParse_AcceptsPrefix(t *testing.T) {
	a, err := Parse("0x" + sampleHex)
	if err != nil {
		t.Fatalf("Parse with prefix: %v", err)
	}
	b := MustParse(sampleHex)
	if a != b {
		t.Errorf("prefixed and bare forms differ")
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"abc",
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
		strings.Repeat("g", 64),
	}
	for _, c := range cases {
		if _, err := Parse(c); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("Parse(%q): got %v, want ErrInvalidIdentity", c, err)
		}
	}
}

func TestFromBytes(t *testing.T) {
	b := make([]byte, Size)
	b[0] = 0xff
	id, err := FromBytes(b)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if id[0] != 0xff {
		t.Errorf("byte not copied")
	}

	if _, err := FromBytes(b[:31]); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("short slice: got %v, want ErrInvalidIdentity", err)
	}
}

func TestIsZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() = false")
	}
	if MustParse(sampleHex).IsZero() {
		t.Error("non-zero identity reported zero")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	id := MustParse(sampleHex)

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"`+sampleHex+`"` {
		t.Errorf("marshal: got %s", data)
	}

	var back Identity
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != id {
		t.Errorf("JSON round trip mismatch")
	}
}

func TestShort(t *testing.T) {
	if got := MustParse(sampleHex).Short(); got != sampleHex[:8] {
		t.Errorf("Short() = %s, want %s", got, sampleHex[:8])
	}
}
