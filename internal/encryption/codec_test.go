package encryption

import (
	"errors"
	"strings"
	"testing"
)

func newTestCodec(t *testing.T, secret string) *Codec {
	t.Helper()
	c, err := NewCodec(secret)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	inputs := []string{
		"Printer broken",
		"jane@x.com",
		"Zeile 1\nZeile 2 mit Umlauten äöü",
		Marker + "looks encoded but is not",
		"U2FsdGVkX1 legacy marker from the old client",
		strings.Repeat("x", 10000),
		"",
	}
	for _, in := range inputs {
		enc, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("encrypt %q: %v", in, err)
		}
		if enc == in {
			t.Errorf("ciphertext equals plaintext for %q", in)
		}
		if !IsEncoded(enc) {
			t.Errorf("ciphertext for %q lacks marker", in)
		}
		dec, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("decrypt %q: %v", in, err)
		}
		if dec != in {
			t.Errorf("round trip: got %q, want %q", dec, in)
		}
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Error("expected distinct ciphertexts for the same input")
	}
}

func TestDecryptLegacyPlaintext(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	for _, in := range []string{"Printer broken", "", "enc:v2:future", "ENC:V1:upper", "u2fsdgvkx1 lower case"} {
		got, err := c.Decrypt(in)
		if err != nil {
			t.Errorf("decrypt legacy %q: %v", in, err)
		}
		if got != in {
			t.Errorf("legacy value changed: got %q, want %q", got, in)
		}
	}
}

func TestDecryptFailures(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	good, _ := c.Encrypt("hello")

	tests := []struct {
		name   string
		stored string
	}{
		{"bad base64", Marker + "!!!not base64!!!"},
		{"truncated", good[:len(Marker)+10]},
		{"tampered", good[:len(good)-2] + flip(good[len(good)-2:])},
		{"empty payload", Marker},
		{"legacy passphrase ciphertext", "U2FsdGVkX1+Zq3P0sZ2h4w8Kc0aWv7Tq=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.stored)
			if !errors.Is(err, ErrDecrypt) {
				t.Fatalf("expected ErrDecrypt, got %v", err)
			}
			plain, err := c.Reveal(tt.stored)
			if err == nil || plain != ErrorPlaceholder {
				t.Errorf("Reveal = %q, %v; want placeholder and error", plain, err)
			}
		})
	}
}

func TestWrongKey(t *testing.T) {
	enc, _ := newTestCodec(t, "old-key").Encrypt("hello")
	if _, err := newTestCodec(t, "new-key").Decrypt(enc); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt with rotated key, got %v", err)
	}
}

func TestPlaintextCodec(t *testing.T) {
	c := NewPlaintextCodec()
	out, err := c.Encrypt("visible")
	if err != nil || out != "visible" {
		t.Errorf("plaintext encrypt = %q, %v", out, err)
	}
	enc, _ := newTestCodec(t, "k").Encrypt("secret")
	if _, err := c.Decrypt(enc); !errors.Is(err, ErrNoKey) {
		t.Errorf("expected ErrNoKey, got %v", err)
	}
}

func TestOpenIsolatesFieldFailures(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	sealed, err := c.Seal(SensitiveFields{Subject: "Printer broken", Description: "No toner", Contact: "jane@x.com"})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed.Description = Marker + "garbage"

	opened, errs := c.Open(sealed)
	if opened.Subject != "Printer broken" || opened.Contact != "jane@x.com" {
		t.Errorf("intact fields changed: %+v", opened)
	}
	if opened.Description != ErrorPlaceholder {
		t.Errorf("expected placeholder description, got %q", opened.Description)
	}
	if len(errs) != 1 {
		t.Fatalf("expected one field error, got %d", len(errs))
	}
	var fe *FieldError
	if !errors.As(errs[0], &fe) || fe.Field != "description" {
		t.Errorf("unexpected error %v", errs[0])
	}
}

func flip(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
	}
	return string(b)
}

func TestReadOnlyCodec(t *testing.T) {
	full, _ := NewCodec("k")
	sealed, _ := full.Encrypt("Printer broken")

	ro, err := NewReadOnlyCodec("k")
	if err != nil {
		t.Fatalf("NewReadOnlyCodec: %v", err)
	}
	if ro.Enabled() {
		t.Error("read-only codec must not report enabled")
	}
	if out, _ := ro.Encrypt("new"); out != "new" {
		t.Errorf("read-only codec sealed a new value: %q", out)
	}
	if plain, err := ro.Decrypt(sealed); err != nil || plain != "Printer broken" {
		t.Errorf("Decrypt = %q, %v", plain, err)
	}
}

func TestLegacyCiphertextIsNeverPlaintext(t *testing.T) {
	stored := LegacyMarker + "8Kc0aWv7Tq+Zq3P0sZ2h4w=="
	if !IsEncoded(stored) {
		t.Fatal("legacy ciphertext reported as plaintext")
	}
	for name, c := range map[string]*Codec{"keyed": newTestCodec(t, "s3cret"), "plaintext": NewPlaintextCodec()} {
		plain, err := c.Reveal(stored)
		if !errors.Is(err, ErrLegacyCiphertext) || plain != ErrorPlaceholder {
			t.Errorf("%s: Reveal = %q, %v", name, plain, err)
		}
	}
}
