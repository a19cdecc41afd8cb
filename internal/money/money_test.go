package money

import (
	"errors"
	"testing"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

func TestToMinor(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1", want: 100},
		{in: "1500.5", want: 150050},
		{in: "0.01", want: 1},
		{in: "0", wantErr: true},
		{in: "-10", wantErr: true},
		{in: "0.001", wantErr: true},
		{in: "100000000000000000000", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ToMinor(decimal.RequireFromString(tc.in))
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidAmount) {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("to minor: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestFromMinor(t *testing.T) {
	if got := FromMinor(150050).String(); got != "1500.5" {
		t.Fatalf("expected 1500.5, got %s", got)
	}
	if got := FromMinor(0).String(); got != "0" {
		t.Fatalf("expected 0, got %s", got)
	}
}
