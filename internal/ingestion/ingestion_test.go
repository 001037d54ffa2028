package ingestion

import (
	"testing"

	"github.com/polysignal/copytrader/internal/exchange"
)

func TestIsPaginationEnd(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		pageLen int
		limit   int
		want    bool
	}{
		{"full page, no error", nil, 500, 500, false},
		{"short page, no error", nil, 10, 500, true},
		{"empty page, no error", nil, 0, 500, true},
		{"pagination cap error", &exchange.Error{Kind: exchange.KindPaginationOffsetCap}, 0, 500, true},
		{"other exchange error", &exchange.Error{Kind: exchange.KindUpstream5xx}, 0, 500, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isPaginationEnd(tc.err, tc.pageLen, tc.limit)
			if got != tc.want {
				t.Errorf("isPaginationEnd(%v, %d, %d) = %v, want %v", tc.err, tc.pageLen, tc.limit, got, tc.want)
			}
		})
	}
}

func TestParseTradeTimestamp(t *testing.T) {
	sec, err := parseTradeTimestamp("1700000000")
	if err != nil || sec != 1700000000 {
		t.Fatalf("expected epoch seconds parse, got %d, %v", sec, err)
	}

	rfc, err := parseTradeTimestamp("2023-11-14T22:13:20Z")
	if err != nil || rfc != 1700000000 {
		t.Fatalf("expected RFC3339 parse to match epoch, got %d, %v", rfc, err)
	}

	if _, err := parseTradeTimestamp("not-a-timestamp"); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}
