package service

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// payloadJSON decodes webhook bodies keeping numbers as json.Number so
// prices survive without float rounding surprises.
var payloadJSON = jsoniter.Config{UseNumber: true}.Froze()

// fieldRule reads one signal field from the first key that parses.
type fieldRule struct {
	name  string
	keys  []string
	apply func(sig *domain.Signal, v any) bool
}

// structuredRules are tried in order; within a rule the first key that
// yields a usable value wins.
var structuredRules = []fieldRule{
	{
		name: "action",
		keys: []string{"action", "side", "type", "order_action", "signal"},
		apply: func(sig *domain.Signal, v any) bool {
			side, ok := parseAction(v)
			if ok {
				sig.Action = side
			}
			return ok
		},
	},
	{
		name: "price",
		keys: []string{"price", "close", "entry_price", "signal_price"},
		apply: func(sig *domain.Signal, v any) bool {
			f, ok := parsePositive(v)
			if ok {
				sig.Price = f
			}
			return ok
		},
	},
	{
		name: "symbol",
		keys: []string{"symbol", "ticker", "pair", "instrument"},
		apply: func(sig *domain.Signal, v any) bool {
			s, ok := parseSymbol(v)
			if ok {
				sig.Symbol = s
			}
			return ok
		},
	},
	{
		name: "size",
		keys: []string{"size", "quantity", "qty"},
		apply: func(sig *domain.Signal, v any) bool {
			f, ok := parsePositive(v)
			if ok {
				sig.Size = &f
			}
			return ok
		},
	},
	{
		name: "stop_loss",
		keys: []string{"stop_loss", "sl"},
		apply: func(sig *domain.Signal, v any) bool {
			f, ok := parsePositive(v)
			if ok {
				sig.StopLoss = &f
			}
			return ok
		},
	},
	{
		name: "take_profit",
		keys: []string{"take_profit", "tp"},
		apply: func(sig *domain.Signal, v any) bool {
			f, ok := parsePositive(v)
			if ok {
				sig.TakeProfit = &f
			}
			return ok
		},
	},
}

var (
	priceRe       = regexp.MustCompile(`(?i)price[:=\s]*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	symbolLabelRe = regexp.MustCompile(`(?i)symbol[:=\s]*([A-Za-z0-9\-/_.:]+)`)
	tickerRe      = regexp.MustCompile(`\b([A-Z]{2,6}(?:USDT|USD|BTC|ETH)?(?:/USDT|/USD)?)\b`)
	sizeRe        = regexp.MustCompile(`(?i)\b(?:size|qty|quantity)[:=\s]*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	stopRe        = regexp.MustCompile(`(?i)\b(?:sl|stop[\s_-]*loss)[:=\s]*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	targetRe      = regexp.MustCompile(`(?i)\b(?:tp|take[\s_-]*profit)[:=\s]*([0-9][0-9,]*(?:\.[0-9]+)?)`)
)

// tickerStopwords are upper-case words that look like tickers in alert text.
var tickerStopwords = map[string]bool{
	"BUY": true, "SELL": true, "LONG": true, "SHORT": true,
	"PRICE": true, "SYMBOL": true, "SIZE": true, "QTY": true,
	"SL": true, "TP": true, "STOP": true, "LOSS": true, "TAKE": true, "PROFIT": true,
	"ALERT": true, "SIGNAL": true, "ENTRY": true, "EXIT": true,
	"OPEN": true, "CLOSE": true, "AT": true, "NEW": true, "THE": true, "AND": true, "FOR": true,
}

// extractStructured applies structuredRules to obj.
func extractStructured(sig *domain.Signal, obj map[string]any) {
	for _, rule := range structuredRules {
		for _, key := range rule.keys {
			v, ok := obj[key]
			if !ok || v == nil {
				continue
			}
			if rule.apply(sig, v) {
				break
			}
		}
	}
}

// extractText fills every field of sig that is still empty from free text.
func extractText(sig *domain.Signal, text string) {
	if text == "" {
		return
	}
	if !sig.Action.Valid() {
		if side, ok := parseAction(text); ok {
			sig.Action = side
		}
	}
	if sig.Price <= 0 {
		if f, ok := firstNumber(priceRe, text); ok {
			sig.Price = f
		}
	}
	if sig.Symbol == "" {
		sig.Symbol = textSymbol(text)
	}
	if sig.Size == nil {
		if f, ok := firstNumber(sizeRe, text); ok {
			sig.Size = &f
		}
	}
	if sig.StopLoss == nil {
		if f, ok := firstNumber(stopRe, text); ok {
			sig.StopLoss = &f
		}
	}
	if sig.TakeProfit == nil {
		if f, ok := firstNumber(targetRe, text); ok {
			sig.TakeProfit = &f
		}
	}
}

func textSymbol(text string) string {
	if m := symbolLabelRe.FindStringSubmatch(text); m != nil {
		if s := normalizeSymbol(m[1]); s != "" {
			return s
		}
	}
	for _, m := range tickerRe.FindAllStringSubmatch(text, -1) {
		if tickerStopwords[m[1]] {
			continue
		}
		return normalizeSymbol(m[1])
	}
	return ""
}

func firstNumber(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parsePositive(m[1])
}

// parseAction maps a loosely worded action to a side by substring, so
// "Buying" counts. BUY and LONG win over SELL and SHORT when a value mentions
// both, wherever they appear.
func parseAction(v any) (domain.Side, bool) {
	s := strings.ToUpper(fmt.Sprint(v))
	switch {
	case strings.Contains(s, "BUY"), strings.Contains(s, "LONG"):
		return domain.SideBuy, true
	case strings.Contains(s, "SELL"), strings.Contains(s, "SHORT"):
		return domain.SideSell, true
	default:
		return "", false
	}
}

// parsePositive reads a strictly positive finite number from a JSON value or
// a string with optional thousands separators.
func parsePositive(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func parseSymbol(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = normalizeSymbol(s)
	return s, s != ""
}

// normalizeSymbol upper-cases a ticker and drops an exchange prefix
// ("BINANCE:BTCUSDT") and pair separators ("BTC/USDT", "BTC-USD").
func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	return strings.Trim(s, ".")
}
