package venue

// TypeMap holds a bijective-by-default mapping between the internal
// OrderType vocabulary and one venue's order-type strings. Built once per
// gateway from DefaultTypeMap() and overridden per-venue only where the venue's
// naming actually diverges.
type TypeMap struct {
	toVenue    map[OrderType]string
	toInternal map[string]OrderType
}

// DefaultTypeMap returns the identity mapping: internal names pass
// through unchanged, which matches Binance-family venues exactly.
func DefaultTypeMap() *TypeMap {
	tm := &TypeMap{
		toVenue:    make(map[OrderType]string),
		toInternal: make(map[string]OrderType),
	}
	for _, t := range []OrderType{
		TypeMarket, TypeLimit, TypeStop, TypeStopLimit,
		TypeStopMarket, TypeTakeProfit, TypeTakeProfitMarket,
	} {
		tm.Set(t, string(t))
	}
	return tm
}

// Set installs an internal <-> venue-string pair, overwriting both
// directions so the map stays bijective.
func (tm *TypeMap) Set(internal OrderType, venueName string) {
	if old, ok := tm.toVenue[internal]; ok {
		delete(tm.toInternal, old)
	}
	if old, ok := tm.toInternal[venueName]; ok {
		delete(tm.toVenue, old)
	}
	tm.toVenue[internal] = venueName
	tm.toInternal[venueName] = internal
}

// ToVenue maps an internal type to its venue string. Unmapped internal
// types fall back to their own string value.
func (tm *TypeMap) ToVenue(t OrderType) string {
	if v, ok := tm.toVenue[t]; ok {
		return v
	}
	return string(t)
}

// ToInternal maps a venue string back to the internal vocabulary.
// Unknown venue strings default to LIMIT, per the normalization contract;
// the caller is expected to log the fallback.
func (tm *TypeMap) ToInternal(venueName string) (t OrderType, knownVenueType bool) {
	if t, ok := tm.toInternal[venueName]; ok {
		return t, true
	}
	return TypeLimit, false
}
