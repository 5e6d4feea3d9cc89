package webhook

import (
	"strings"
	"testing"

	"github.com/sascha1337/wasmd-indexer/internal/config"
)

func TestNewSoketiClientNilWithoutHost(t *testing.T) {
	if c := NewSoketiClient(config.SoketiConfig{}); c != nil {
		t.Error("expected nil client when Host is unset")
	}
}

func TestMD5Hex(t *testing.T) {
	// Known MD5 of the empty string.
	if got := md5Hex(nil); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("md5Hex(nil) = %q, want d41d8cd98f00b204e9800998ecf8427e", got)
	}
}

func TestSignProducesSortedQueryWithSignature(t *testing.T) {
	c := &SoketiClient{cfg: config.SoketiConfig{Key: "appkey", Secret: "appsecret"}}

	query := c.sign("POST", "/apps/1/events", []byte(`{"a":1}`))

	for _, want := range []string{"auth_key=appkey", "auth_timestamp=", "auth_version=1.0", "body_md5=", "auth_signature="} {
		if !strings.Contains(query, want) {
			t.Errorf("signed query %q missing %q", query, want)
		}
	}

	// Params must be in sorted-key order, signature appended last.
	if strings.Index(query, "auth_key=") > strings.Index(query, "auth_signature=") {
		t.Error("auth_key should appear before auth_signature in the query string")
	}
}

func TestSignChangesWithBody(t *testing.T) {
	c := &SoketiClient{cfg: config.SoketiConfig{Key: "k", Secret: "s"}}
	a := c.sign("GET", "/apps/1/events", []byte("body-one"))
	b := c.sign("GET", "/apps/1/events", []byte("body-two"))
	if a == b {
		t.Error("sign output should change when the signed body changes")
	}
}
