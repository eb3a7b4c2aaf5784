package uom

import "sort"

// allocate dispatches to the configured strategy's pure allocation
// function. activeSet is already sorted ascending by priority.
func allocate(cfg AllocationConfig, activeSet []VenueRegistration, amount float64, roundRobinCounter *int) map[string]float64 {
	switch cfg.Strategy {
	case StrategyRoundRobin:
		return allocateRoundRobin(activeSet, amount, roundRobinCounter)
	case StrategySplitEqual:
		return allocateSplitEqual(activeSet, amount)
	case StrategyWeighted:
		return allocateWeighted(cfg.Weights, activeSet, amount)
	case StrategyCustom:
		return allocateCustom(cfg.CustomRatios, activeSet, amount)
	default: // StrategyPriority and any unrecognized value default to it
		return allocatePriority(activeSet, amount)
	}
}

func allocatePriority(activeSet []VenueRegistration, amount float64) map[string]float64 {
	if len(activeSet) == 0 {
		return nil
	}
	return map[string]float64{activeSet[0].ID: amount}
}

func allocateRoundRobin(activeSet []VenueRegistration, amount float64, counter *int) map[string]float64 {
	if len(activeSet) == 0 {
		return nil
	}
	idx := (*counter) % len(activeSet)
	*counter = idx + 1
	return map[string]float64{activeSet[idx].ID: amount}
}

func allocateSplitEqual(activeSet []VenueRegistration, amount float64) map[string]float64 {
	n := len(activeSet)
	if n == 0 {
		return nil
	}
	share := amount / float64(n)
	out := make(map[string]float64, n)
	for _, v := range activeSet {
		out[v.ID] = share
	}
	return out
}

// allocateWeighted allocates a round2-rounded share per weight, then
// corrects the residual via largest-remainder redistribution, one cent at
// a time. The shares sum exactly to amount when amount is a whole number
// of cents; otherwise every share is still cent-rounded, the sum can miss
// amount by up to a cent, and CreateOrder's sum check rejects the order.
func allocateWeighted(weights map[string]float64, activeSet []VenueRegistration, amount float64) map[string]float64 {
	type share struct {
		id       string
		exact    float64
		rounded  float64
		remainder float64
	}
	var total float64
	shares := make([]share, 0, len(activeSet))
	for _, v := range activeSet {
		w := weights[v.ID]
		if w <= 0 {
			continue
		}
		total += w
		shares = append(shares, share{id: v.ID})
	}
	if total <= 0 {
		return allocatePriority(activeSet, amount)
	}

	out := make(map[string]float64, len(shares))
	var roundedSum float64
	for i := range shares {
		w := weights[shares[i].id]
		exact := amount * w / total
		rounded := round2(exact)
		shares[i].exact = exact
		shares[i].rounded = rounded
		shares[i].remainder = exact - rounded
		roundedSum += rounded
		out[shares[i].id] = rounded
	}

	residual := round2(amount - roundedSum)
	if residual == 0 {
		return out
	}

	// Largest-remainder redistribution: give the residual's cents to the
	// shares whose rounding discarded the largest fractional remainder,
	// one cent at a time, until the sum matches exactly.
	sort.Slice(shares, func(i, j int) bool { return shares[i].remainder > shares[j].remainder })
	cents := int(round2(absFloat(residual)) * 100)
	sign := 1.0
	if residual < 0 {
		sign = -1.0
	}
	for i := 0; i < cents && len(shares) > 0; i++ {
		id := shares[i%len(shares)].id
		out[id] = round2(out[id] + sign*0.01)
	}
	return out
}

// allocateCustom allocates amount*ratio per venue with a positive ratio;
// any remainder beyond 1e-5 is added to the top-priority (first) active
// venue, preserving the sum invariant.
func allocateCustom(ratios map[string]float64, activeSet []VenueRegistration, amount float64) map[string]float64 {
	out := make(map[string]float64)
	var sum float64
	for _, v := range activeSet {
		r := ratios[v.ID]
		if r <= 0 {
			continue
		}
		share := amount * r
		out[v.ID] = share
		sum += share
	}
	remainder := amount - sum
	if absFloat(remainder) > 1e-5 && len(activeSet) > 0 {
		top := activeSet[0].ID
		out[top] += remainder
	}
	return out
}

func round2(v float64) float64 {
	return float64(int64(v*100+signOf(v)*0.5)) / 100
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
