package bars

import "math"

// Resample aggregates every factor consecutive bars into one coarser bar. Groups are aligned to
// the most recent bar so the latest coarse bar always ends at the latest base bar; a leading
// partial group is dropped.
func Resample(series []Bar, factor int) []Bar {
	if factor <= 1 {
		out := make([]Bar, len(series))
		copy(out, series)
		return out
	}

	groups := len(series) / factor
	if groups == 0 {
		return nil
	}

	start := len(series) - groups*factor
	out := make([]Bar, 0, groups)
	for g := 0; g < groups; g++ {
		chunk := series[start+g*factor : start+(g+1)*factor]
		agg := Bar{
			Timestamp: chunk[len(chunk)-1].Timestamp,
			Open:      chunk[0].Open,
			High:      chunk[0].High,
			Low:       chunk[0].Low,
			Close:     chunk[len(chunk)-1].Close,
		}
		for _, b := range chunk {
			agg.High = math.Max(agg.High, b.High)
			agg.Low = math.Min(agg.Low, b.Low)
			agg.Volume += b.Volume
		}
		out = append(out, agg)
	}
	return out
}
