package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestPaginationOffsetCapGracefulStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset >= 3000 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"1","proxyWallet":"0xw","conditionId":"c1","side":"BUY","size":"10","price":"0.5","timestamp":"100"}]`))
	}))
	defer srv.Close()

	c := New(Config{DataAPIBase: srv.URL, MaxRetries: 0})

	_, err := c.FetchTrades(context.Background(), "0xw", 500, 0)
	if err != nil {
		t.Fatalf("expected first page to succeed: %v", err)
	}

	_, err = c.FetchTrades(context.Background(), "0xw", 500, 3000)
	var exErr *Error
	if err == nil {
		t.Fatalf("expected an error at offset 3000")
	}
	exErr, ok := err.(*Error)
	if !ok || exErr.Kind != KindPaginationOffsetCap {
		t.Fatalf("expected PaginationOffsetCap classification, got %#v", err)
	}
}

func TestFlexStringAcceptsStringOrNumber(t *testing.T) {
	var s FlexString
	if err := s.UnmarshalJSON([]byte(`"0.5"`)); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if s != "0.5" {
		t.Fatalf("expected 0.5, got %q", s)
	}
	if err := s.UnmarshalJSON([]byte(`0.75`)); err != nil {
		t.Fatalf("number form: %v", err)
	}
	if s != "0.75" {
		t.Fatalf("expected 0.75, got %q", s)
	}
}

func TestResolvedYesNo(t *testing.T) {
	yes := RawMarket{Closed: true, OutcomePrices: []FlexString{"0.995"}}
	if yes.Resolved() != ResolvedYes {
		t.Fatalf("expected ResolvedYes")
	}
	no := RawMarket{Closed: true, OutcomePrices: []FlexString{"0.005"}}
	if no.Resolved() != ResolvedNo {
		t.Fatalf("expected ResolvedNo")
	}
	open := RawMarket{Closed: false, OutcomePrices: []FlexString{"0.5"}}
	if open.Resolved() != NotResolved {
		t.Fatalf("expected NotResolved for open market")
	}
}
