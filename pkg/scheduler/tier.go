package scheduler

import "time"

// Tier bounds. interval(tier) = 2^tier minutes, from 1 minute at tier 0 to
// roughly 17 hours at tier 10.
const (
	MinTier = 0
	MaxTier = 10
)

// Interval converts a tier into a polling interval.
func Interval(tier int) time.Duration {
	if tier < MinTier {
		tier = MinTier
	}
	if tier > MaxTier {
		tier = MaxTier
	}
	return time.Duration(1<<tier) * time.Minute
}

// Next computes the tier and unmodified counter after one fetch.
//
// New items pull the feed one tier hotter. A quiet fetch bumps the
// unmodified counter; once it reaches max(2, tier) the feed cools off one
// tier. A failed fetch additionally cools one extra tier so broken feeds
// back off instead of hammering.
func Next(tier, unmodified int, hasNewItems, fetchFailed bool) (int, int) {
	if hasNewItems {
		tier--
		if tier < MinTier {
			tier = MinTier
		}
		return tier, 0
	}

	unmodified++
	threshold := tier
	if threshold < 2 {
		threshold = 2
	}
	if unmodified >= threshold && tier < MaxTier {
		tier++
		unmodified = 0
	}

	if fetchFailed && tier < MaxTier {
		tier++
	}

	return tier, unmodified
}
