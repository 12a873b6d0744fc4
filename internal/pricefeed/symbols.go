package pricefeed

// stockTokens maps NSE symbols to broker instrument tokens used by the live
// stream subscription protocol.
var stockTokens = map[string]string{
	"RELIANCE":   "22_NSE",
	"SBIN":       "3045_NSE",
	"INFY":       "1594_NSE",
	"TCS":        "11536_NSE",
	"HDFCBANK":   "1333_NSE",
	"ICICIBANK":  "4963_NSE",
	"KOTAKBANK":  "1922_NSE",
	"BHARTIARTL": "10604_NSE",
	"ITC":        "424_NSE",
	"HINDUNILVR": "356_NSE",
	"LT":         "17963_NSE",
	"ASIANPAINT": "3718_NSE",
	"AXISBANK":   "5900_NSE",
	"MARUTI":     "10999_NSE",
	"SUNPHARMA":  "3351_NSE",
	"TITAN":      "3506_NSE",
	"ULTRACEMCO": "11532_NSE",
	"NESTLEIND":  "17963_NSE",
	"WIPRO":      "3787_NSE",
	"NTPC":       "11630_NSE",
	"TECHM":      "13538_NSE",
	"HCLTECH":    "7229_NSE",
	"POWERGRID":  "14977_NSE",
	"BAJFINANCE": "317_NSE",
	"M&M":        "519_NSE",
	"TATASTEEL":  "895_NSE",
	"ADANIPORTS": "15083_NSE",
	"COALINDIA":  "20374_NSE",
	"BAJAJFINSV": "16675_NSE",
	"DRREDDY":    "881_NSE",
	"EICHERMOT":  "910_NSE",
	"GRASIM":     "1232_NSE",
	"HEROMOTOCO": "1348_NSE",
	"HINDALCO":   "1363_NSE",
	"INDUSINDBK": "1394_NSE",
	"JSWSTEEL":   "11723_NSE",
	"ONGC":       "2475_NSE",
	"SHREECEM":   "3512_NSE",
	"TATAMOTORS": "3456_NSE",
	"UPL":        "11287_NSE",
	"BRITANNIA":  "547_NSE",
	"CIPLA":      "694_NSE",
	"DIVISLAB":   "10940_NSE",
	"GODREJCP":   "10099_NSE",
	"HDFC":       "1330_NSE",
	"HINDPETRO":  "1406_NSE",
	"IOC":        "1624_NSE",
	"SBILIFE":    "21808_NSE",
	"TATACONSUM": "18096_NSE",
	"VEDL":       "3063_NSE",
}

// basePrices seed the synthetic generator with plausible levels per symbol.
var basePrices = map[string]int64{
	"RELIANCE": 2500, "TCS": 3200, "HDFCBANK": 1600, "INFY": 1400,
	"HINDUNILVR": 2400, "ICICIBANK": 900, "KOTAKBANK": 1800,
	"BHARTIARTL": 800, "ITC": 450, "SBIN": 550, "LT": 2200,
	"ASIANPAINT": 3000, "AXISBANK": 750, "MARUTI": 9000, "SUNPHARMA": 1100,
	"TITAN": 2800, "ULTRACEMCO": 7500, "NESTLEIND": 18000, "WIPRO": 400,
	"NTPC": 180, "TECHM": 1200, "HCLTECH": 1150, "POWERGRID": 220,
	"BAJFINANCE": 6500, "M&M": 1400, "TATASTEEL": 120, "ADANIPORTS": 750,
	"COALINDIA": 200, "BAJAJFINSV": 1600, "DRREDDY": 5200, "EICHERMOT": 3500,
	"GRASIM": 1800, "HEROMOTOCO": 2800, "HINDALCO": 400, "INDUSINDBK": 1000,
	"JSWSTEEL": 700, "ONGC": 150, "SHREECEM": 24000, "TATAMOTORS": 450,
	"UPL": 550, "BRITANNIA": 4500, "CIPLA": 1000, "DIVISLAB": 3500,
	"GODREJCP": 900, "HDFC": 2600, "HINDPETRO": 250, "IOC": 85,
	"SBILIFE": 1300, "TATACONSUM": 800, "VEDL": 250,
}

// ValidSymbol reports whether a symbol is tradeable on this feed.
func ValidSymbol(symbol string) bool {
	_, ok := stockTokens[symbol]
	return ok
}

// Symbols returns every tradeable symbol.
func Symbols() []string {
	out := make([]string, 0, len(stockTokens))
	for s := range stockTokens {
		out = append(out, s)
	}
	return out
}

// TokenFor returns the broker instrument token for a symbol.
func TokenFor(symbol string) (string, bool) {
	t, ok := stockTokens[symbol]
	return t, ok
}

// symbolsByToken inverts stockTokens for tick dispatch.
func symbolsByToken() map[string]string {
	m := make(map[string]string, len(stockTokens))
	for symbol, token := range stockTokens {
		m[token] = symbol
	}
	return m
}
