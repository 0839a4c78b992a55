package checksum

import (
	"bytes"
	"strings"
	"testing"
)

func TestSumKnownVectors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		sha1  string
		md5   string
	}{
		{"empty", "", EmptySHA1, EmptyMD5},
		{"abc", "abc", "a9993e364706816aba3e25717850c26c9cd0d89d", "900150983cd24fb0d6963f7d28e17f72"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sha1Hex, md5Hex, n, err := Sum(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("sum error: %v", err)
			}
			if sha1Hex != tc.sha1 {
				t.Fatalf("sha1 mismatch: %s", sha1Hex)
			}
			if md5Hex != tc.md5 {
				t.Fatalf("md5 mismatch: %s", md5Hex)
			}
			if n != int64(len(tc.input)) {
				t.Fatalf("length mismatch: %d", n)
			}
		})
	}
}

func TestHasherAccumulatesAcrossWrites(t *testing.T) {
	h := NewHasher()
	_, _ = h.Write([]byte("a"))
	_, _ = h.Write([]byte("bc"))

	expectSHA1, expectMD5 := SumBytes([]byte("abc"))
	if h.SHA1() != expectSHA1 || h.MD5() != expectMD5 {
		t.Fatalf("chunked digest differs from whole digest")
	}
	if h.Written() != 3 {
		t.Fatalf("written mismatch: %d", h.Written())
	}
}

func TestValidSHA1(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		valid bool
	}{
		{"empty sha1", EmptySHA1, true},
		{"upper case", strings.ToUpper(EmptySHA1), false},
		{"too short", EmptySHA1[:39], false},
		{"non hex", strings.Repeat("g", 40), false},
		{"path traversal", "../" + EmptySHA1[3:], false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidSHA1(tc.input); got != tc.valid {
				t.Fatalf("ValidSHA1(%q) = %v", tc.input, got)
			}
		})
	}
}

func TestNormalizeThenValidate(t *testing.T) {
	raw := "  " + strings.ToUpper(EmptySHA1) + "\n"
	if !ValidSHA1(Normalize(raw)) {
		t.Fatalf("normalized checksum should be valid")
	}
	if !ValidMD5(EmptyMD5) || ValidMD5(EmptySHA1) {
		t.Fatalf("md5 validation mismatch")
	}
}

func TestSumLargeInput(t *testing.T) {
	payload := bytes.Repeat([]byte("binhub"), 64*1024)
	_, _, n, err := Sum(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("sum error: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("length mismatch: %d", n)
	}
}
