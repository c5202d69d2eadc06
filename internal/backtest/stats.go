package backtest

import "math"

// DefaultProfitFactorCap bounds the profit factor when there are no losing trades
const DefaultProfitFactorCap = 10.0

// WilsonZ is the normal quantile for a 95% interval
const WilsonZ = 1.96

// Stats summarises simulated trades
type Stats struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	WilsonLower  float64 `json:"wilson_lower"`
	AvgReturn    float64 `json:"avg_return"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Summarize computes trade statistics. A trade wins when its return is positive.
func Summarize(trades []Trade, pfCap float64) Stats {
	if pfCap <= 0 {
		pfCap = DefaultProfitFactorCap
	}
	s := Stats{Trades: len(trades)}
	if len(trades) == 0 {
		return s
	}

	sum := 0.0
	for _, t := range trades {
		sum += t.Return
		switch {
		case t.Return > 0:
			s.Wins++
			s.GrossProfit += t.Return
		case t.Return < 0:
			s.Losses++
			s.GrossLoss -= t.Return
		}
	}
	s.AvgReturn = sum / float64(len(trades))
	s.WinRate = float64(s.Wins) / float64(len(trades))
	s.WilsonLower = WilsonLowerBound(s.Wins, len(trades), WilsonZ)

	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = math.Min(s.GrossProfit/s.GrossLoss, pfCap)
	case s.GrossProfit > 0:
		s.ProfitFactor = pfCap
	}
	return s
}

// WilsonLowerBound returns the lower end of the Wilson score interval for wins out of n
func WilsonLowerBound(wins, n int, z float64) float64 {
	if n <= 0 {
		return 0
	}
	if wins < 0 {
		wins = 0
	}
	if wins > n {
		wins = n
	}
	nf := float64(n)
	p := float64(wins) / nf
	z2 := z * z
	centre := p + z2/(2*nf)
	margin := z * math.Sqrt((p*(1-p)+z2/(4*nf))/nf)
	denom := 1 + z2/nf
	return math.Max(0, (centre-margin)/denom)
}
