package venue

import "context"

// MarketInfo is the venue-native symbol metadata shape, before
// internal/symbolinfo normalizes it. Concrete gateways fill in whichever
// fields their venue exposes; zero values mean "not reported."
type MarketInfo struct {
	Symbol          string
	Base            string
	Quote           string
	Active          bool
	PricePrecision  int
	AmountPrecision int
	CostPrecision   int
	MinPrice        float64
	MaxPrice        float64
	MinAmount       float64
	MaxAmount       float64
	MinCost         float64
	TickSize        float64
	StepSize        float64
	MakerFee        float64
	TakerFee        float64
	Raw             map[string]any
}

// Gateway is the uniform request interface to one venue. Every method
// that performs network I/O is wrapped by the retry policy in retry.go;
// concrete implementations should not retry on their own.
type Gateway interface {
	ID() string
	Initialize(ctx context.Context, credentials map[string]string) (bool, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	ExecuteOrder(ctx context.Context, req OrderRequest) (venueOrderID string, err error)
	FetchOrder(ctx context.Context, venueOrderID, symbol string) (*RawOrder, error)
	FetchOrderAndConvert(ctx context.Context, venueOrderID, symbol string) (*ConvertedOrder, error)
	CancelOrder(ctx context.Context, venueOrderID, symbol string) error
	CreateOcoOrder(ctx context.Context, req OCORequest) (OCOResult, error)
	GetMarketInfo(ctx context.Context, symbol string) (MarketInfo, error)
	SupportsFeature(name string) bool
	SupportsOCO() bool
}

// ConvertedOrder is the internal-shape view of a venue-reported order,
// used by syncOrderStatus to update local Order state.
type ConvertedOrder struct {
	VenueOrderID string
	Status       Status
	FilledAmount float64
	AvgFillPrice float64
}

// MapVenueStatus applies the fixed venue-to-internal status mapping:
// open -> PLACED, closed|filled -> FILLED, canceled -> CANCELED,
// rejected -> REJECTED, anything else -> OPEN.
func MapVenueStatus(raw string) Status {
	switch raw {
	case "open":
		return StatusPlaced
	case "closed", "filled":
		return StatusFilled
	case "canceled", "cancelled":
		return StatusCanceled
	case "rejected":
		return StatusRejected
	default:
		return StatusOpen
	}
}
