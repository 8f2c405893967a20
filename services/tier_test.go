package services

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTier(t *testing.T) {
	tests := []struct {
		points int64
		want   string
	}{
		{-5, "KBar Member"},
		{0, "KBar Member"},
		{9, "KBar Member"},
		{10, "Bronze Member"},
		{99, "Bronze Member"},
		{100, "Silver Member"},
		{249, "Silver Member"},
		{250, "Gold Member"},
		{499, "Gold Member"},
		{500, "Platinum Member"},
		{599, "Platinum Member"},
		{600, "Diamond Member"},
		{999, "Diamond Member"},
		{1000, "VIP Member"},
		{25000, "VIP Member"},
	}
	for _, tt := range tests {
		if got := Tier(tt.points); got != tt.want {
			t.Errorf("Tier(%d) = %q, want %q", tt.points, got, tt.want)
		}
	}
}

func TestTierProgress(t *testing.T) {
	tests := []struct {
		points int64
		want   TierProgressInfo
	}{
		{0, TierProgressInfo{Current: "KBar Member", Next: "Bronze Member", IntoBand: 0, Needed: 10, BandWidth: 10}},
		{22, TierProgressInfo{Current: "Bronze Member", Next: "Silver Member", IntoBand: 12, Needed: 78, BandWidth: 90}},
		{550, TierProgressInfo{Current: "Platinum Member", Next: "Diamond Member", IntoBand: 50, Needed: 50, BandWidth: 100}},
		{999, TierProgressInfo{Current: "Diamond Member", Next: "VIP Member", IntoBand: 399, Needed: 1, BandWidth: 400}},
		{1000, TierProgressInfo{Current: "VIP Member", Complete: true}},
	}
	for _, tt := range tests {
		if got := TierProgress(tt.points); got != tt.want {
			t.Errorf("TierProgress(%d) = %+v, want %+v", tt.points, got, tt.want)
		}
	}
	if p := TierProgress(22).Percent(); p != 13 {
		t.Errorf("TierProgress(22).Percent() = %d, want 13", p)
	}
	if p := TierProgress(5000).Percent(); p != 0 {
		t.Errorf("top tier Percent() = %d, want 0", p)
	}
}

func TestPointsFor(t *testing.T) {
	tests := []struct {
		total string
		want  int64
	}{
		{"22.48", 22},
		{"9.99", 9},
		{"10", 10},
		{"0.50", 0},
		{"0", 0},
	}
	for _, tt := range tests {
		if got := PointsFor(decimal.RequireFromString(tt.total)); got != tt.want {
			t.Errorf("PointsFor(%s) = %d, want %d", tt.total, got, tt.want)
		}
	}
}
