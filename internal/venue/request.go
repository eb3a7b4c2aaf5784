package venue

// OutboundParams is the venue-agnostic, already-normalized parameter set
// a concrete gateway turns into its own wire format. Centralizing this
// here means the MARKET-family price-omission rule is enforced exactly
// once for every venue, instead of once per adapter.
type OutboundParams struct {
	Symbol       string
	Side         string
	Type         string
	Amount       string
	Price        string // empty when omitted
	StopPrice    string // empty when omitted
	ClientID     string
}

// BuildRequest normalizes req into OutboundParams using the venue's
// typeMap, enforcing that any "*MARKET" type carries no price
// regardless of what the caller put in req.Price.
func BuildRequest(req OrderRequest, typeMap *TypeMap, formatFloat func(float64) string) OutboundParams {
	out := OutboundParams{
		Symbol: req.Symbol,
		Side:   string(req.Side),
		Type:   typeMap.ToVenue(req.Type),
		Amount: formatFloat(req.Amount),
	}
	if !req.Type.IsMarketFamily() && req.Type.IsLimitFamily() {
		out.Price = formatFloat(req.Price)
	}
	if req.Type.IsStopFamily() {
		out.StopPrice = formatFloat(req.StopPrice)
	}
	if cid, ok := req.Options["clientId"].(string); ok {
		out.ClientID = cid
	}
	return out
}
