package keycodec

import "testing"

func TestBase64RoundTrip(t *testing.T) {
	cases := []string{
		"AA==",         // single zero byte
		"AQIDBA==",     // 1,2,3,4
		"Zm9vYmFy",     // "foobar"
	}

	for _, b64 := range cases {
		key, err := Base64ToEventKey(b64)
		if err != nil {
			t.Fatalf("Base64ToEventKey(%q): %v", b64, err)
		}
		back, err := EventKeyToBase64(key)
		if err != nil {
			t.Fatalf("EventKeyToBase64(%q): %v", key, err)
		}
		if back != b64 {
			t.Errorf("round trip mismatch: %q -> %q -> %q", b64, key, back)
		}
	}
}

func TestBytesToEventKey(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte{}, ""},
		{[]byte{0}, "0"},
		{[]byte{0, 1, 255}, "0,1,255"},
	}

	for _, tc := range cases {
		got := BytesToEventKey(tc.in)
		if got != tc.want {
			t.Errorf("BytesToEventKey(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEventKeyToBytesInvalid(t *testing.T) {
	cases := []string{"256", "-1", "abc", "1,,2"}
	for _, key := range cases {
		if _, err := EventKeyToBytes(key); err == nil {
			t.Errorf("EventKeyToBytes(%q): expected error, got nil", key)
		}
	}
}

func TestHasPrefix(t *testing.T) {
	cases := []struct {
		key, prefix string
		want        bool
	}{
		{"0,1,2", "0,1", true},
		{"0,1,2", "0,12", false},
		{"0,12", "0,1", false},
		{"0,1", "0,1", true},
		{"0,1", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got := HasPrefix(tc.key, tc.prefix)
		if got != tc.want {
			t.Errorf("HasPrefix(%q,%q) = %v, want %v", tc.key, tc.prefix, got, tc.want)
		}
	}
}
