package runestone

import (
	"encoding/hex"
	"testing"
)

// S6 — pins the reference mint's encoder output byte-for-byte.
func TestEncode_S6(t *testing.T) {
	edicts := []Edict{
		{Id: RuneId{Block: 1527352, Tx: 1}, Amount: 2000, Output: 1},
	}

	script, err := Encode(edicts)
	if err != nil {
		t.Fatal(err)
	}

	got := hex.EncodeToString(script)
	want := "6a5d0800b89c5d01d00f01"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestDecode_S6(t *testing.T) {
	script, err := hex.DecodeString("6a5d0800b89c5d01d00f01")
	if err != nil {
		t.Fatal(err)
	}

	rs, err := Decode(script)
	if err != nil {
		t.Fatal(err)
	}
	if rs == nil || len(rs.Edicts) != 1 {
		t.Fatalf("expected exactly one edict, got %+v", rs)
	}

	edict := rs.Edicts[0]
	want := Edict{Id: RuneId{Block: 1527352, Tx: 1}, Amount: 2000, Output: 1}
	if edict != want {
		t.Fatalf("got %+v, want %+v", edict, want)
	}
}

func TestEncodeEmptyEdicts(t *testing.T) {
	script, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(script) != "6a5d00" {
		t.Fatalf("got %x, want 6a5d00", script)
	}
}

func TestDecodeEmptyEdicts(t *testing.T) {
	script, _ := hex.DecodeString("6a5d00")
	rs, err := Decode(script)
	if err != nil {
		t.Fatal(err)
	}
	if rs == nil || len(rs.Edicts) != 0 {
		t.Fatalf("expected empty edicts, got %+v", rs)
	}
}

func TestDecodeWrongPrefix(t *testing.T) {
	script := []byte{0x51, 0x5d, 0x00}
	rs, err := Decode(script)
	if err != nil {
		t.Fatal(err)
	}
	if rs != nil {
		t.Fatalf("expected nil for non-runestone script, got %+v", rs)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	// claims an 8-byte payload but only provides 2
	script := []byte{opReturn, op13, 0x08, 0x00, 0xb8}
	rs, err := Decode(script)
	if err != nil {
		t.Fatal(err)
	}
	if rs == nil {
		t.Fatalf("expected a non-nil, possibly empty runestone")
	}
}

func TestEncodeMultipleEdictsDeltaEncoding(t *testing.T) {
	edicts := []Edict{
		{Id: RuneId{Block: 100, Tx: 5}, Amount: 10, Output: 0},
		{Id: RuneId{Block: 100, Tx: 7}, Amount: 20, Output: 1},
		{Id: RuneId{Block: 105, Tx: 2}, Amount: 30, Output: 1},
	}

	script, err := Encode(edicts)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(script)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded.Edicts) != len(edicts) {
		t.Fatalf("got %d edicts, want %d", len(decoded.Edicts), len(edicts))
	}
	for i, e := range edicts {
		if decoded.Edicts[i] != e {
			t.Fatalf("edict %d: got %+v, want %+v", i, decoded.Edicts[i], e)
		}
	}
}
