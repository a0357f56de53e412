package fee

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

var hundred = decimal.NewFromInt(100)

// Tier is one step of the fee schedule. UpTo is an inclusive upper bound on
// the price; zero marks the last, unbounded tier.
type Tier struct {
	UpTo    int64
	Flat    int64
	Percent decimal.Decimal
	Min     int64
}

// Schedule maps a price to an admin fee
type Schedule struct {
	Tiers []Tier
}

// DefaultSchedule returns the built-in tier table
func DefaultSchedule() *Schedule {
	return &Schedule{Tiers: []Tier{
		{UpTo: 99_999, Flat: 2_000},
		{UpTo: 499_999, Flat: 5_000},
		{UpTo: 1_000_000, Percent: decimal.NewFromInt(1)},
		{Percent: decimal.RequireFromString("0.5"), Min: 10_000},
	}}
}

// Fee returns the admin fee for price. Percentages are floored to the
// minor unit.
func (s *Schedule) Fee(price int64) int64 {
	for _, t := range s.Tiers {
		if t.UpTo != 0 && price > t.UpTo {
			continue
		}
		return t.fee(price)
	}
	// unreachable for a validated schedule
	return 0
}

func (t Tier) fee(price int64) int64 {
	if t.Percent.IsZero() {
		return t.Flat
	}
	fee := decimal.NewFromInt(price).Mul(t.Percent).Div(hundred).Floor().IntPart()
	if fee < t.Min {
		return t.Min
	}
	return fee
}

// Validate checks that bounds ascend, the last tier is unbounded, no fee
// component is negative and the fee never drops when a price crosses into
// the next tier
func (s *Schedule) Validate() error {
	if len(s.Tiers) == 0 {
		return errors.New("fee schedule has no tiers")
	}

	var prev int64
	for i, t := range s.Tiers {
		last := i == len(s.Tiers)-1
		switch {
		case last && t.UpTo != 0:
			return fmt.Errorf("tier %d: last tier must be unbounded", i)
		case !last && t.UpTo <= prev:
			return fmt.Errorf("tier %d: upper bound %d must exceed %d", i, t.UpTo, prev)
		case t.Flat < 0 || t.Min < 0:
			return fmt.Errorf("tier %d: negative fee", i)
		case t.Percent.IsNegative() || t.Percent.GreaterThan(hundred):
			return fmt.Errorf("tier %d: percent %s out of range", i, t.Percent)
		}
		if i > 0 {
			below := s.Tiers[i-1].fee(prev)
			if above := t.fee(prev + 1); above < below {
				return fmt.Errorf("tier %d: fee %d at price %d is below the previous tier's %d", i, above, prev+1, below)
			}
		}
		prev = t.UpTo
	}
	return nil
}

type fileTier struct {
	UpTo    int64  `yaml:"up_to"`
	Flat    int64  `yaml:"flat"`
	Percent string `yaml:"percent"`
	Min     int64  `yaml:"min"`
}

type fileSchedule struct {
	Tiers []fileTier `yaml:"tiers"`
}

// Parse decodes a YAML tier table
func Parse(data []byte) (*Schedule, error) {
	var raw fileSchedule
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode fee schedule: %w", err)
	}

	s := &Schedule{Tiers: make([]Tier, 0, len(raw.Tiers))}
	for i, ft := range raw.Tiers {
		t := Tier{UpTo: ft.UpTo, Flat: ft.Flat, Min: ft.Min}
		if ft.Percent != "" {
			pct, err := decimal.NewFromString(ft.Percent)
			if err != nil {
				return nil, fmt.Errorf("tier %d: invalid percent %q: %w", i, ft.Percent, err)
			}
			t.Percent = pct
		}
		s.Tiers = append(s.Tiers, t)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSchedule reads a YAML tier table from path. An empty path yields the
// default schedule.
func LoadSchedule(path string) (*Schedule, error) {
	if path == "" {
		return DefaultSchedule(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee schedule: %w", err)
	}
	return Parse(data)
}
