package compress

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 64)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"none", Config{Type: None}},
		{"snappy", Config{Type: Snappy}},
		{"lz4", Config{Type: LZ4}},
		{"lz4hc", Config{Type: LZ4, Level: 9}},
		{"zstd", Config{Type: Zstd}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Compress(tt.cfg, payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			got, err := Decompress(tt.cfg.Type, compressed, len(payload))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestDecompressUnsupportedType(t *testing.T) {
	if _, err := Decompress(Type(0xFF), []byte("x"), 0); err == nil {
		t.Fatal("expected error for unsupported compression type")
	}
}

func TestTypeString(t *testing.T) {
	if None.String() != "None" || LZ4.String() != "LZ4" {
		t.Fatalf("unexpected String() output")
	}
}
