package gate_test

import (
	"encoding/base64"
	"errors"
	"testing"

	"filegate/internal/gate"
)

const testMagnitude = 100123456789

func TestAddressRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		end   int64
	}{
		{"single message", 5, 5},
		{"small range", 10, 14},
		{"large range", 1, 4000},
		{"zero start", 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := gate.EncodeAddress(tt.start, tt.end, testMagnitude)
			if err != nil {
				t.Fatalf("EncodeAddress() error = %v", err)
			}

			addr, err := gate.DecodeAddress(token, testMagnitude)
			if err != nil {
				t.Fatalf("DecodeAddress() error = %v", err)
			}
			if addr.Start != tt.start || addr.End != tt.end {
				t.Errorf("round trip = [%d, %d], want [%d, %d]", addr.Start, addr.End, tt.start, tt.end)
			}
			if addr.Count() != tt.end-tt.start+1 {
				t.Errorf("Count() = %d, want %d", addr.Count(), tt.end-tt.start+1)
			}
		})
	}
}

func TestDecodeAddressRejects(t *testing.T) {
	encode := func(plain string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(plain))
	}

	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"wrong operation tag", encode("put-500617283945")},
		{"one segment", encode("get")},
		{"four segments", encode("get-1-2-3")},
		{"non-integer segment", encode("get-abc")},
		{"inverted range", encode("get-1001234567890-500617283945")},
		{"empty token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gate.DecodeAddress(tt.token, testMagnitude)
			if !errors.Is(err, gate.ErrInvalidAddress) {
				t.Errorf("DecodeAddress(%q) error = %v, want ErrInvalidAddress", tt.token, err)
			}
		})
	}
}

func TestDecodeAcceptsPaddedToken(t *testing.T) {
	token, err := gate.EncodeAddress(7, 9, testMagnitude)
	if err != nil {
		t.Fatalf("EncodeAddress() error = %v", err)
	}

	// Tokens that went through a padding-happy encoder still decode.
	padded := token + "=="
	addr, err := gate.DecodeAddress(padded, testMagnitude)
	if err != nil {
		t.Fatalf("DecodeAddress() error = %v", err)
	}
	if addr.Start != 7 || addr.End != 9 {
		t.Errorf("decoded = %+v", addr)
	}
}

func TestMessageIDs(t *testing.T) {
	addr := gate.Address{Start: 3, End: 6}
	ids := addr.MessageIDs()
	want := []int{3, 4, 5, 6}
	if len(ids) != len(want) {
		t.Fatalf("len = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}

func TestBatchFromFirst(t *testing.T) {
	addr, err := gate.BatchFromFirst(100, 5)
	if err != nil {
		t.Fatalf("BatchFromFirst() error = %v", err)
	}
	if addr.Start != 100 || addr.End != 104 {
		t.Errorf("addr = %+v, want [100, 104]", addr)
	}

	if _, err := gate.BatchFromFirst(100, 0); !errors.Is(err, gate.ErrInvalidAddress) {
		t.Errorf("zero size error = %v, want ErrInvalidAddress", err)
	}
}

func TestChannelCodec(t *testing.T) {
	token := gate.EncodeChannel(-100987654321)
	id, err := gate.DecodeChannel(token)
	if err != nil {
		t.Fatalf("DecodeChannel() error = %v", err)
	}
	if id != -100987654321 {
		t.Errorf("DecodeChannel() = %d", id)
	}

	if _, err := gate.DecodeChannel("???"); !errors.Is(err, gate.ErrInvalidAddress) {
		t.Errorf("bad token error = %v, want ErrInvalidAddress", err)
	}
}
