package ingest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/model"
)

func makeLine(t *testing.T, height uint64, contract, key, value string, del bool) string {
	t.Helper()
	raw := rawRecord{
		BlockHeight:     height,
		BlockTimeUnixMs: height * 1000,
		ContractAddress: contract,
		CodeID:          7,
		Key:             base64.StdEncoding.EncodeToString([]byte(key)),
		Value:           base64.StdEncoding.EncodeToString([]byte(value)),
		Delete:          del,
	}
	b, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal test record: %v", err)
	}
	return string(b)
}

func TestParseRecordDecodesKeyAndValue(t *testing.T) {
	line := makeLine(t, 100, "wasm1abc", "balance", `{"amount":"5"}`, false)

	e, err := parseRecord(line)
	if err != nil {
		t.Fatalf("parseRecord: %v", err)
	}

	if e.BlockHeight != 100 {
		t.Errorf("BlockHeight = %d, want 100", e.BlockHeight)
	}
	if e.ContractAddress != "wasm1abc" {
		t.Errorf("ContractAddress = %q, want wasm1abc", e.ContractAddress)
	}
	if e.Value == nil || *e.Value != `{"amount":"5"}` {
		t.Errorf("Value = %v, want {\"amount\":\"5\"}", e.Value)
	}
	if e.ValueJSON == nil {
		t.Error("ValueJSON should be populated for a JSON-shaped value")
	}
	if e.Contract == nil || e.Contract.CodeID != 7 {
		t.Errorf("Contract.CodeID = %v, want 7", e.Contract)
	}
}

func TestParseRecordTombstoneHasNoValue(t *testing.T) {
	line := makeLine(t, 1, "wasm1abc", "balance", "", true)

	e, err := parseRecord(line)
	if err != nil {
		t.Fatalf("parseRecord: %v", err)
	}
	if !e.Delete {
		t.Error("expected Delete = true")
	}
	if e.Value != nil {
		t.Error("tombstone record should carry no value")
	}
}

func TestParseRecordMissingFields(t *testing.T) {
	line := `{"blockHeight": 1}`
	_, err := parseRecord(line)
	if err == nil {
		t.Fatal("expected error for record missing contractAddress/key")
	}
	if !errors.Is(err, apperr.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestDedupWithinBatchKeepsLastWriteWins(t *testing.T) {
	v1, v2 := "1", "2"
	batch := []model.WasmEvent{
		{BlockHeight: 10, ContractAddress: "c1", Key: "k1", Value: &v1},
		{BlockHeight: 10, ContractAddress: "c1", Key: "k1", Value: &v2},
		{BlockHeight: 10, ContractAddress: "c1", Key: "k2", Value: &v1},
	}

	out := dedupWithinBatch(batch)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Key != "k1" || *out[0].Value != "2" {
		t.Errorf("expected k1 to keep last write %q, got %v", "2", out[0].Value)
	}
	if out[1].Key != "k2" {
		t.Errorf("expected k2 to survive in first-occurrence order, got %q", out[1].Key)
	}
}

func TestMaxBlock(t *testing.T) {
	events := []model.WasmEvent{
		{BlockHeight: 5},
		{BlockHeight: 20},
		{BlockHeight: 7},
	}
	height, _ := maxBlock(events)
	if height != 20 {
		t.Errorf("maxBlock height = %d, want 20", height)
	}
}

func TestDistinctContractsPreservesFirstSeenOrder(t *testing.T) {
	events := []model.WasmEvent{
		{ContractAddress: "b"},
		{ContractAddress: "a"},
		{ContractAddress: "b"},
	}
	got := distinctContracts(events)
	want := []string{"b", "a"}
	if len(got) != len(want) {
		t.Fatalf("distinctContracts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("distinctContracts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
