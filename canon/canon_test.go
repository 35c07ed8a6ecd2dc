package canon

import (
	"encoding/json"
	"testing"
)

func TestEncodeSortsKeysAndOmitsWhitespace(t *testing.T) {
	v := map[string]interface{}{
		"b": "two",
		"a": json.Number("1"),
		"c": []interface{}{"x", "y"},
	}
	got, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"a":1,"b":"two","c":["x","y"]}`
	if string(got) != want {
		t.Fatalf("Encode = %s, want %s", got, want)
	}
}

func TestEncodeIntegerHasNoDecimalPoint(t *testing.T) {
	got, err := Encode(map[string]interface{}{"hds.ttl": json.Number("3600")})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"hds.ttl":3600}` {
		t.Fatalf("Encode = %s", got)
	}
}

func TestDecodePreservesIntegerPrecision(t *testing.T) {
	decoded, err := Decode([]byte(`{"hds.ttl": 60000}`))
	if err != nil {
		t.Fatal(err)
	}
	n, ok := decoded["hds.ttl"].(json.Number)
	if !ok {
		t.Fatalf("hds.ttl decoded as %T, want json.Number", decoded["hds.ttl"])
	}
	if n.String() != "60000" {
		t.Fatalf("hds.ttl = %s", n)
	}
}
