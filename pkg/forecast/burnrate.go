// Package forecast estimates when tracked items run out from their recent
// usage history.
package forecast

import (
	"iter"
	"math"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/triage"
	"github.com/shopspring/decimal"
)

var maxDays = decimal.NewFromInt(math.MaxInt64)

const (
	// DefaultWindow is how many of the most recent samples feed a forecast.
	DefaultWindow = 30

	// DefaultConfidenceSaturation is the sample count at which confidence reaches 1.
	DefaultConfidenceSaturation = 10
)

// Compute derives a depletion forecast from samples with the default
// confidence saturation. It reports false when there are no samples.
func Compute(currentQuantity int64, samples iter.Seq[model.UsageSample]) (model.DepletionForecast, bool) {
	return compute(currentQuantity, samples, DefaultConfidenceSaturation)
}

func compute(currentQuantity int64, samples iter.Seq[model.UsageSample], saturation int) (model.DepletionForecast, bool) {
	sum := decimal.Zero
	n := 0
	for s := range samples {
		sum = sum.Add(decimal.NewFromFloat(s.UsageRate))
		n++
	}
	if n == 0 {
		return model.DepletionForecast{}, false
	}

	count := decimal.NewFromInt(int64(n))
	avg, _ := sum.Div(count).Float64()

	f := model.DepletionForecast{
		AverageDailyUsage: avg,
		SampleCount:       n,
		Confidence:        confidence(n, saturation),
	}

	if !sum.IsPositive() {
		f.LegacyTier = model.LegacyLow
		f.Tier = triage.NormalizeLegacyTier(string(f.LegacyTier))
		return f, true
	}

	// floor(quantity / (sum / n)) == trunc(quantity * n / sum) for positive
	// operands; QuoRem keeps the integer part exact. Quotients past int64
	// saturate so a near-zero usage rate reads as never running out.
	quantity := decimal.NewFromInt(max(currentQuantity, 0)).Mul(count)
	q, _ := quantity.QuoRem(sum, 0)
	days := int64(math.MaxInt64)
	if q.LessThan(maxDays) {
		days = q.IntPart()
	}

	f.DaysUntilDepletion = &days
	f.LegacyTier = triage.LegacyTierForDays(days)
	f.Tier = triage.NormalizeLegacyTier(string(f.LegacyTier))
	return f, true
}

func confidence(n, saturation int) float64 {
	if saturation <= 0 {
		saturation = DefaultConfidenceSaturation
	}
	if n >= saturation {
		return 1.0
	}
	return float64(n) / float64(saturation)
}
