package postgres

import "testing"

func TestSanitizeNameAllowsAlphanumericAndUnderscore(t *testing.T) {
	if got := SanitizeName("wasmd_indexer_1"); got != "wasmd_indexer_1" {
		t.Errorf("SanitizeName = %q, want wasmd_indexer_1", got)
	}
}

func TestSanitizeNameReplacesUnsafeCharacters(t *testing.T) {
	if got := SanitizeName("bad schema;DROP"); got != "bad_schema_DROP" {
		t.Errorf("SanitizeName = %q, want bad_schema_DROP", got)
	}
}
