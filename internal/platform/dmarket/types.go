package dmarket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// Envelope is the normalised result of one executed request. Ordinary HTTP
// and network failures never surface as Go errors from the request layer;
// they arrive here with Error=true and a stable Code.
type Envelope struct {
	Error     bool            `json:"error"`
	Status    int             `json:"status"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	FromCache bool            `json:"-"`
}

// Stable failure codes surfaced in Envelope.Code.
const (
	CodeCircuitOpen  = "circuit_open"
	CodeNetworkError = "network_error"
	CodeRateLimited  = "rate_limited"
	CodeClientError  = "client_error"
	CodeServerError  = "server_error"
	CodeCancelled    = "cancelled"
)

// Err maps a failed envelope onto the domain sentinel errors so callers can
// use errors.Is. Successful envelopes return nil.
func (e Envelope) Err() error {
	if !e.Error {
		return nil
	}
	switch e.Code {
	case CodeCircuitOpen:
		return fmt.Errorf("dmarket: %s: %w", e.Message, domain.ErrCircuitOpen)
	case CodeRateLimited:
		return fmt.Errorf("dmarket: %s: %w", e.Message, domain.ErrRateLimited)
	case CodeCancelled:
		return fmt.Errorf("dmarket: %s: %w", e.Message, domain.ErrContextDone)
	}
	if e.Status == 404 {
		return fmt.Errorf("dmarket: %s: %w", e.Message, domain.ErrNotFound)
	}
	if e.Status == 401 || e.Status == 403 {
		return fmt.Errorf("dmarket: %s: %w", e.Message, domain.ErrUnauthorized)
	}
	return fmt.Errorf("dmarket: %s (status %d, code %s)", e.Message, e.Status, e.Code)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// itemsResponse covers the market-items list endpoints. The array key has
// drifted between "objects" and "items" across upstream revisions; both are
// accepted.
type itemsResponse struct {
	Objects []wireItem `json:"objects"`
	Items   []wireItem `json:"items"`
	Cursor  string     `json:"cursor"`
	Total   any        `json:"total"` // string or number depending on revision
}

func (r itemsResponse) list() []wireItem {
	if len(r.Objects) > 0 {
		return r.Objects
	}
	return r.Items
}

// wireItem is a single listing as upstream serialises it. Prices arrive as
// minor-unit numeric strings under a currency-keyed map.
type wireItem struct {
	ItemID    string            `json:"itemId"`
	Title     string            `json:"title"`
	GameID    string            `json:"gameId"`
	Amount    int               `json:"amount"`
	Price     map[string]string `json:"price"`
	Extra     wireItemExtra     `json:"extra"`
	UpdatedAt int64             `json:"updatedAt"` // unix seconds
}

type wireItemExtra struct {
	LinkID string `json:"linkId"`
}

// identity resolves a stable entity key, falling back through alternate ID
// fields. Items with no derivable identity are skipped by the caller.
func (w wireItem) identity() (string, bool) {
	if w.ItemID != "" {
		return w.ItemID, true
	}
	if w.Extra.LinkID != "" {
		return w.Extra.LinkID, true
	}
	if w.Title != "" {
		return "title:" + w.Title, true
	}
	return "", false
}

// toDomain converts a wire item to the domain representation. Missing USD
// prices become zero; quantity is clamped non-negative. An absent itemId
// falls back to the listing's linkId so the entity keeps a stable key.
func (w wireItem) toDomain(gameID string) domain.MarketItem {
	price, _ := ParseMinorUnits(w.Price["USD"])
	qty := w.Amount
	if qty < 0 {
		qty = 0
	}
	id := w.ItemID
	if id == "" {
		id = w.Extra.LinkID
	}
	game := w.GameID
	if game == "" {
		game = gameID
	}
	var updated time.Time
	if w.UpdatedAt > 0 {
		updated = time.Unix(w.UpdatedAt, 0).UTC()
	}
	return domain.MarketItem{
		ItemID:    id,
		Title:     w.Title,
		GameID:    game,
		Price:     price,
		Quantity:  qty,
		UpdatedAt: updated,
	}
}

// ParseMinorUnits converts an upstream minor-unit numeric string (e.g.
// "1250" meaning $12.50) into decimal dollars.
func ParseMinorUnits(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	cents, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("dmarket: parse price %q: %w", s, err)
	}
	return cents.Shift(-2), nil
}

// ---------------------------------------------------------------------------
// Balance shapes
// ---------------------------------------------------------------------------

// Balance is the parsed account balance in dollars.
type Balance struct {
	USD decimal.Decimal
	DMC decimal.Decimal
}

// balanceShape is one pure matcher for a historical balance response shape.
// Matchers are tried in priority order; adding support for a new upstream
// revision is an isolated append.
type balanceShape struct {
	name  string
	parse func(raw map[string]json.RawMessage) (Balance, bool)
}

var balanceShapes = []balanceShape{
	{"minor-unit strings", parseBalanceMinorStrings},
	{"nested funds", parseBalanceFunds},
	{"usd object", parseBalanceUSDObject},
	{"flat dollars", parseBalanceFlatDollars},
	{"withdrawable", parseBalanceWithdrawable},
}

// ParseBalance tries every known balance shape in order and returns the
// parsed balance plus the name of the matching shape.
func ParseBalance(raw []byte) (Balance, string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Balance{}, "", fmt.Errorf("dmarket: balance is not a JSON object: %w", err)
	}
	for _, shape := range balanceShapes {
		if b, ok := shape.parse(m); ok {
			return b, shape.name, nil
		}
	}
	return Balance{}, "", fmt.Errorf("dmarket: balance matches no known shape (keys: %v)", keysOf(m))
}

// {"usd": "1250", "dmc": "300"} — minor-unit strings.
func parseBalanceMinorStrings(m map[string]json.RawMessage) (Balance, bool) {
	var usd, dmc string
	if !unmarshalField(m, "usd", &usd) {
		return Balance{}, false
	}
	_ = unmarshalField(m, "dmc", &dmc)
	u, err := ParseMinorUnits(usd)
	if err != nil {
		return Balance{}, false
	}
	d, _ := ParseMinorUnits(dmc)
	return Balance{USD: u, DMC: d}, true
}

// {"funds": {"usd": {"amount": 1250}}} — nested funds object.
func parseBalanceFunds(m map[string]json.RawMessage) (Balance, bool) {
	rawFunds, ok := m["funds"]
	if !ok {
		return Balance{}, false
	}
	var funds map[string]struct {
		Amount json.Number `json:"amount"`
	}
	if err := json.Unmarshal(rawFunds, &funds); err != nil {
		return Balance{}, false
	}
	usd, ok := funds["usd"]
	if !ok {
		return Balance{}, false
	}
	cents, err := decimal.NewFromString(usd.Amount.String())
	if err != nil {
		return Balance{}, false
	}
	out := Balance{USD: cents.Shift(-2)}
	if dmc, ok := funds["dmc"]; ok {
		if c, err := decimal.NewFromString(dmc.Amount.String()); err == nil {
			out.DMC = c.Shift(-2)
		}
	}
	return out, true
}

// {"usd": {"amount": "1250"}} — per-currency objects at the top level.
func parseBalanceUSDObject(m map[string]json.RawMessage) (Balance, bool) {
	rawUSD, ok := m["usd"]
	if !ok {
		return Balance{}, false
	}
	var obj struct {
		Amount json.Number `json:"amount"`
	}
	if err := json.Unmarshal(rawUSD, &obj); err != nil || obj.Amount == "" {
		return Balance{}, false
	}
	cents, err := decimal.NewFromString(obj.Amount.String())
	if err != nil {
		return Balance{}, false
	}
	return Balance{USD: cents.Shift(-2)}, true
}

// {"balance": 12.5} — legacy flat dollars.
func parseBalanceFlatDollars(m map[string]json.RawMessage) (Balance, bool) {
	raw, ok := m["balance"]
	if !ok {
		return Balance{}, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return Balance{}, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return Balance{}, false
	}
	return Balance{USD: d}, true
}

// {"usdAvailableToWithdraw": "12.50"} — withdrawal-centric revision, already
// in dollars.
func parseBalanceWithdrawable(m map[string]json.RawMessage) (Balance, bool) {
	var s string
	if !unmarshalField(m, "usdAvailableToWithdraw", &s) || s == "" {
		return Balance{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Balance{}, false
	}
	return Balance{USD: d}, true
}

func unmarshalField(m map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := m[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func keysOf(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
