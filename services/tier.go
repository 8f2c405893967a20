package services

import "github.com/shopspring/decimal"

// TierBand is a half-open range of lifetime points [Min, Max).
// The last band has Max == 0 and no upper bound.
type TierBand struct {
	Name string
	Min  int64
	Max  int64
}

var tierBands = []TierBand{
	{Name: "KBar Member", Min: 0, Max: 10},
	{Name: "Bronze Member", Min: 10, Max: 100},
	{Name: "Silver Member", Min: 100, Max: 250},
	{Name: "Gold Member", Min: 250, Max: 500},
	{Name: "Platinum Member", Min: 500, Max: 600},
	{Name: "Diamond Member", Min: 600, Max: 1000},
	{Name: "VIP Member", Min: 1000},
}

func bandFor(points int64) int {
	if points < 0 {
		points = 0
	}
	for i := len(tierBands) - 1; i >= 0; i-- {
		if points >= tierBands[i].Min {
			return i
		}
	}
	return 0
}

// Tier returns the display name of the tier the points fall into.
func Tier(points int64) string {
	return tierBands[bandFor(points)].Name
}

type TierProgressInfo struct {
	Current   string
	Next      string // empty at the top tier
	IntoBand  int64  // points earned inside the current band
	Needed    int64  // points still missing for Next
	BandWidth int64
	Complete  bool // top tier reached
}

// Percent is progress through the current band, 0..100.
func (p TierProgressInfo) Percent() int {
	if p.Complete || p.BandWidth == 0 {
		return 0
	}
	return int(p.IntoBand * 100 / p.BandWidth)
}

func TierProgress(points int64) TierProgressInfo {
	if points < 0 {
		points = 0
	}
	i := bandFor(points)
	b := tierBands[i]
	if i == len(tierBands)-1 {
		return TierProgressInfo{Current: b.Name, Complete: true}
	}
	return TierProgressInfo{
		Current:   b.Name,
		Next:      tierBands[i+1].Name,
		IntoBand:  points - b.Min,
		Needed:    b.Max - points,
		BandWidth: b.Max - b.Min,
	}
}

// PointsFor is the loyalty award of a paid order: floor(total).
func PointsFor(total decimal.Decimal) int64 {
	n := total.Floor().IntPart()
	if n < 0 {
		return 0
	}
	return n
}
