package market

import "time"

// Series is a time-indexed float column, as returned for derivative metrics
// (funding rate, open interest, long/short ratios). Same index rules as Frame.
type Series struct {
	Times  []time.Time `json:"times"`
	Values []float64   `json:"values"`
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Times) }

// AlignOnTime inner-joins a feature series against a frame column by exact
// timestamp. Both inputs must be time-sorted; the result keeps the joined
// order and length.
func AlignOnTime(f *Frame, col string, feature Series) (price, feat []float64, times []time.Time, ok bool) {
	pcol, ok := f.Column(col)
	if !ok {
		return nil, nil, nil, false
	}
	i, j := 0, 0
	for i < f.Len() && j < feature.Len() {
		switch {
		case f.Times[i].Equal(feature.Times[j]):
			price = append(price, pcol[i])
			feat = append(feat, feature.Values[j])
			times = append(times, f.Times[i])
			i++
			j++
		case f.Times[i].Before(feature.Times[j]):
			i++
		default:
			j++
		}
	}
	return price, feat, times, true
}
