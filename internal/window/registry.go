package window

import (
	"fmt"
	"sort"
	"strings"

	"bbot/internal/model"
)

// Pair holds every configured window for one trading symbol.
type Pair struct {
	Symbol  string
	Windows map[model.Interval]*Window

	// Halted is set when a structural error poisoned this pair's state;
	// further payloads for the symbol are discarded until an operator
	// intervenes.
	Halted bool
}

// NewPair creates a pair with one window per configured interval.
func NewPair(symbol string, intervals []model.Interval, limit int) *Pair {
	p := &Pair{
		Symbol:  symbol,
		Windows: make(map[model.Interval]*Window, len(intervals)),
	}
	for _, iv := range intervals {
		p.Windows[iv] = New(iv, limit)
	}
	return p
}

// Registry maps symbol strings to their pairs. It is populated once at
// startup and only read afterwards; all window mutation happens through the
// pipeline consumer.
type Registry struct {
	intervals []model.Interval
	limit     int
	pairs     map[string]*Pair
}

// NewRegistry creates an empty registry for the configured intervals and
// window length.
func NewRegistry(intervals []model.Interval, limit int) *Registry {
	ivs := make([]model.Interval, len(intervals))
	copy(ivs, intervals)
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Millis() < ivs[j].Millis() })
	return &Registry{
		intervals: ivs,
		limit:     limit,
		pairs:     make(map[string]*Pair),
	}
}

// FilterSymbols selects the symbols whose quote asset suffix and base asset
// prefix both match the configured filters. "*" on either side matches any.
func FilterSymbols(all []string, baseAssets, quoteAssets []string) []string {
	anyBase := contains(baseAssets, "*")
	anyQuote := contains(quoteAssets, "*")

	var selected []string
	for _, s := range all {
		sym := strings.ToUpper(s)
		switch {
		case anyBase && anyQuote:
			selected = append(selected, sym)
		case anyQuote:
			for _, ba := range baseAssets {
				base := strings.ToUpper(ba)
				if strings.HasPrefix(sym, base) && len(sym) > len(base) {
					selected = append(selected, sym)
					break
				}
			}
		default:
			for _, qa := range quoteAssets {
				quote := strings.ToUpper(qa)
				if !strings.HasSuffix(sym, quote) || len(sym) == len(quote) {
					continue
				}
				base := strings.TrimSuffix(sym, quote)
				if anyBase || contains(baseAssets, base) {
					selected = append(selected, sym)
				}
				break
			}
		}
	}
	sort.Strings(selected)
	return selected
}

// CreatePairs registers one pair per symbol. Called once at startup, before
// any producer runs.
func (r *Registry) CreatePairs(symbols []string) {
	for _, s := range symbols {
		r.pairs[strings.ToUpper(s)] = NewPair(strings.ToUpper(s), r.intervals, r.limit)
	}
}

// Pair resolves a symbol, or errors when the payload addresses nothing.
func (r *Registry) Pair(symbol string) (*Pair, error) {
	p, ok := r.pairs[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown symbol %q", model.ErrMalformedPayload, symbol)
	}
	return p, nil
}

// Window resolves a (symbol, interval) target. Every payload must resolve to
// exactly one window or be dropped with a reported error.
func (r *Registry) Window(symbol string, iv model.Interval) (*Window, error) {
	p, err := r.Pair(symbol)
	if err != nil {
		return nil, err
	}
	w, ok := p.Windows[iv]
	if !ok {
		return nil, fmt.Errorf("%w: symbol %q has no %s window", model.ErrMalformedPayload, symbol, iv)
	}
	return w, nil
}

// Symbols returns the registered symbols, sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.pairs))
	for s := range r.pairs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Intervals returns the configured intervals, finest first.
func (r *Registry) Intervals() []model.Interval {
	out := make([]model.Interval, len(r.intervals))
	copy(out, r.intervals)
	return out
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if strings.EqualFold(x, want) {
			return true
		}
	}
	return false
}
