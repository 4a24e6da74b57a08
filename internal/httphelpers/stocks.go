package httphelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	stockRequestsPerEval         = 3
	stockRequestsPerMinutePerKey = 10
	cacheTTL                     = 60 * time.Second
	chartEndpoint                = "https://query1.finance.yahoo.com/v8/finance/chart/"
)

type cachedQuote struct {
	fetchedAt     time.Time
	symbol        string
	price         float64
	changePercent float64
	volume        int64
}

// StockCommands registers a stockquote builtin with per-user, per-eval,
// and global rate limits plus a short-lived quote cache, matching the
// layered limits the original chart-bot feature used before the switch
// to ordinary HTTP fetches.
type StockCommands struct {
	perUser  *Limiter
	global   *Limiter
	client   *http.Client
	endpoint string

	mu    sync.Mutex
	user  string
	cache map[string]cachedQuote
}

// NewStockCommands builds the stock command set backed by plain HTTP
// quote lookups: the retrieved example pack carries no third-party Go
// client for a stock quote provider, so this talks to the public chart
// JSON endpoint directly with net/http and encoding/json.
func NewStockCommands() *StockCommands {
	return newStockCommandsWithEndpoint(chartEndpoint)
}

func newStockCommandsWithEndpoint(endpoint string) *StockCommands {
	return &StockCommands{
		perUser:  NewLimiter(stockRequestsPerEval, stockRequestsPerMinutePerKey),
		global:   NewLimiter(stockRequestsPerEval*100, 30),
		client:   &http.Client{Timeout: requestTimeout},
		endpoint: endpoint,
		cache:    make(map[string]cachedQuote),
	}
}

// BeginEval resets both rate limiters' per-eval counters and records
// which user the upcoming evaluation belongs to for per-user bucketing.
func (s *StockCommands) BeginEval(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.perUser.BeginEval()
	s.global.BeginEval()
}

func (s *StockCommands) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Register installs stockquote into in.
func (s *StockCommands) Register(in Extender) {
	in.Extend("stockquote", s.quote)
}

func (s *StockCommands) quote(L *lua.LState) int {
	symbol := strings.ToUpper(strings.TrimSpace(L.CheckString(1)))
	if symbol == "" {
		L.RaiseError("stock symbol required")
		return 0
	}

	if q, ok := s.cached(symbol); ok {
		L.Push(formatQuote(q))
		return 1
	}

	user := s.currentUser()
	if err := s.perUser.Allow(user); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if err := s.global.Allow("global"); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	q, err := s.fetch(symbol)
	if err != nil {
		L.RaiseError("failed to fetch stock data: %s", err)
		return 0
	}
	s.store(q)
	L.Push(formatQuote(q))
	return 1
}

func (s *StockCommands) cached(symbol string) (cachedQuote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, q := range s.cache {
		if time.Since(q.fetchedAt) > cacheTTL {
			delete(s.cache, sym)
		}
	}
	q, ok := s.cache[symbol]
	return q, ok
}

func (s *StockCommands) store(q cachedQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[q.symbol] = q
}

// chartResponse is the slice of the Yahoo Finance chart JSON payload this
// package actually reads.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
				RegularMarketVol   int64   `json:"regularMarketVolume"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (s *StockCommands) fetch(symbol string) (cachedQuote, error) {
	req, err := http.NewRequest(http.MethodGet, s.endpoint+url.PathEscape(symbol), nil)
	if err != nil {
		return cachedQuote{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; scriptkeeper)")

	resp, err := s.client.Do(req)
	if err != nil {
		return cachedQuote{}, err
	}
	defer resp.Body.Close()

	var parsed chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return cachedQuote{}, fmt.Errorf("decode quote response: %w", err)
	}
	if parsed.Chart.Error != nil {
		return cachedQuote{}, fmt.Errorf("%s", parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return cachedQuote{}, fmt.Errorf("no quote data available for %s", symbol)
	}

	meta := parsed.Chart.Result[0].Meta
	var changePercent float64
	if meta.PreviousClose != 0 {
		changePercent = (meta.RegularMarketPrice - meta.PreviousClose) / meta.PreviousClose * 100
	}

	return cachedQuote{
		fetchedAt:     time.Now(),
		symbol:        strings.ToUpper(meta.Symbol),
		price:         meta.RegularMarketPrice,
		changePercent: changePercent,
		volume:        meta.RegularMarketVol,
	}, nil
}

func formatQuote(q cachedQuote) lua.LString {
	sign := ""
	if q.changePercent >= 0 {
		sign = "+"
	}
	return lua.LString(fmt.Sprintf("%s: $%.2f (%s%.2f%%)", q.symbol, q.price, sign, q.changePercent))
}
