package dmarket

import (
	"testing"
)

func TestParseMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1250", "12.50"},
		{"99", "0.99"},
		{"0", "0.00"},
		{"", "0.00"},
		{"100000000", "1000000.00"},
	}
	for _, tc := range cases {
		got, err := ParseMinorUnits(tc.in)
		if err != nil {
			t.Errorf("ParseMinorUnits(%q): %v", tc.in, err)
			continue
		}
		if got.StringFixed(2) != tc.want {
			t.Errorf("ParseMinorUnits(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParseMinorUnits("abc"); err == nil {
		t.Error("expected error for non-numeric price")
	}
}

func TestWireItemIdentityFallback(t *testing.T) {
	cases := []struct {
		item wireItem
		want string
		ok   bool
	}{
		{wireItem{ItemID: "id1", Extra: wireItemExtra{LinkID: "l1"}, Title: "t"}, "id1", true},
		{wireItem{Extra: wireItemExtra{LinkID: "l1"}, Title: "t"}, "l1", true},
		{wireItem{Title: "AK-47 | Redline"}, "title:AK-47 | Redline", true},
		{wireItem{}, "", false},
	}
	for i, tc := range cases {
		got, ok := tc.item.identity()
		if got != tc.want || ok != tc.ok {
			t.Errorf("case %d: identity() = (%q, %v), want (%q, %v)", i, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseBalanceShapes(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantUSD string
		shape   string
	}{
		{"minor strings", `{"usd":"1250","dmc":"300"}`, "12.50", "minor-unit strings"},
		{"nested funds", `{"funds":{"usd":{"amount":1250}}}`, "12.50", "nested funds"},
		{"usd object", `{"usd":{"amount":"1250"}}`, "12.50", "usd object"},
		{"flat dollars", `{"balance":12.5}`, "12.50", "flat dollars"},
		{"withdrawable", `{"usdAvailableToWithdraw":"12.50"}`, "12.50", "withdrawable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bal, shape, err := ParseBalance([]byte(tc.raw))
			if err != nil {
				t.Fatal(err)
			}
			if shape != tc.shape {
				t.Errorf("matched shape %q, want %q", shape, tc.shape)
			}
			if bal.USD.StringFixed(2) != tc.wantUSD {
				t.Errorf("USD = %s, want %s", bal.USD, tc.wantUSD)
			}
		})
	}
}

func TestParseBalanceUnknownShape(t *testing.T) {
	if _, _, err := ParseBalance([]byte(`{"credits":"100"}`)); err == nil {
		t.Error("expected error for unknown balance shape")
	}
	if _, _, err := ParseBalance([]byte(`[1,2,3]`)); err == nil {
		t.Error("expected error for non-object balance")
	}
}
