package route

import (
	"math"

	"github.com/shopspring/decimal"
)

// Severity bands a price impact for display
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityVeryHigh Severity = "very_high"
	SeverityInvalid  Severity = "invalid"
)

// Impact thresholds in percent
var (
	lowImpactThreshold      = decimal.NewFromInt(1)
	moderateImpactThreshold = decimal.NewFromInt(3)
	highImpactThreshold     = decimal.NewFromInt(5)
	veryHighImpactThreshold = decimal.NewFromInt(10)
	hundred                 = decimal.NewFromInt(100)
)

// IsWarning reports whether the user should be warned before confirming
func (s Severity) IsWarning() bool {
	return s == SeverityHigh || s == SeverityVeryHigh || s == SeverityInvalid
}

// PriceImpact is the percentage of USD value lost between input and output.
// The zero value is invalid.
type PriceImpact struct {
	percent decimal.Decimal
	valid   bool
}

// InvalidPriceImpact is used when either USD value is unknown
func InvalidPriceImpact() PriceImpact {
	return PriceImpact{}
}

// ComputePriceImpact returns (in - out) * 100 / in. Zero or unknown values give an invalid impact.
func ComputePriceImpact(inUSD, outUSD decimal.Decimal) PriceImpact {
	if !inUSD.IsPositive() || !outUSD.IsPositive() {
		return InvalidPriceImpact()
	}
	return PriceImpact{
		percent: inUSD.Sub(outUSD).Mul(hundred).Div(inUSD),
		valid:   true,
	}
}

func (p PriceImpact) Valid() bool { return p.valid }

// Decimal returns the impact and whether it is valid
func (p PriceImpact) Decimal() (decimal.Decimal, bool) {
	return p.percent, p.valid
}

// Percent returns NaN for an invalid impact
func (p PriceImpact) Percent() float64 {
	if !p.valid {
		return math.NaN()
	}
	f, _ := p.percent.Float64()
	return f
}

func (p PriceImpact) String() string {
	if !p.valid {
		return "invalid"
	}
	return p.percent.StringFixed(2) + "%"
}

// Classify maps an impact onto static severity bands. A negative impact (more
// value out than in) is none.
func Classify(p PriceImpact) Severity {
	if !p.valid {
		return SeverityInvalid
	}
	switch {
	case p.percent.GreaterThanOrEqual(veryHighImpactThreshold):
		return SeverityVeryHigh
	case p.percent.GreaterThanOrEqual(highImpactThreshold):
		return SeverityHigh
	case p.percent.GreaterThanOrEqual(moderateImpactThreshold):
		return SeverityModerate
	case p.percent.GreaterThanOrEqual(lowImpactThreshold):
		return SeverityLow
	default:
		return SeverityNone
	}
}
