package coin

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLamportsRoundTrip(t *testing.T) {
	for _, lamports := range []uint64{0, 1, 5000, 1000000, 999999999, 1000000000, 123456789012} {
		got := ToLamports(ToSol(lamports))
		if got != lamports {
			t.Errorf("round trip of %d lamports got %d", lamports, got)
		}
	}
}

func TestToSol(t *testing.T) {
	want := decimal.RequireFromString("2.5")
	if got := ToSol(2500000000); !got.Equal(want) {
		t.Errorf("ToSol(2500000000) = %s, want %s", got, want)
	}
}

func TestToLamports(t *testing.T) {
	amount := decimal.RequireFromString("0.001005")
	if got := ToLamports(amount); got != 1005000 {
		t.Errorf("ToLamports(%s) = %d, want 1005000", amount, got)
	}
}

func TestRawAmountRoundTrip(t *testing.T) {
	for _, raw := range []uint64{0, 1, 500000, 123456789} {
		got := ToRawAmount(ToUIAmount(raw, 6), 6)
		if got != raw {
			t.Errorf("round trip of %d raw parts got %d", raw, got)
		}
	}
}

func TestToUIAmount(t *testing.T) {
	want := decimal.RequireFromString("1.5")
	if got := ToUIAmount(1500000, 6); !got.Equal(want) {
		t.Errorf("ToUIAmount(1500000, 6) = %s, want %s", got, want)
	}
}
