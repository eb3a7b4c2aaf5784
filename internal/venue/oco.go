package venue

import (
	"context"

	"go.uber.org/zap"

	"execplane/pkg/metrics"
)

// EmulateOCO places a LIMIT (take-profit) order followed by a STOP order
// when the gateway does not support native OCO. If the stop leg fails,
// the limit leg is cancelled before the failure is returned. The result
// carries both legs' venue ids in OCOResult.LimitID/StopID with Paired
// set; Single is left empty (documented API change from the
// single-id-only convention).
func EmulateOCO(ctx context.Context, gw Gateway, req OCORequest, log *zap.SugaredLogger, reg *metrics.Registry) (OCOResult, error) {
	if reg != nil {
		reg.OCOFallbacks.Inc()
	}

	limitReq := OrderRequest{
		Symbol: req.Symbol,
		Side:   req.Side,
		Type:   TypeLimit,
		Amount: req.Amount,
		Price:  req.LimitPrice,
	}
	limitID, err := gw.ExecuteOrder(ctx, limitReq)
	if err != nil {
		return OCOResult{}, err
	}

	stopLimitPrice := req.StopLimitPrice
	stopType := TypeStopMarket
	if stopLimitPrice > 0 {
		stopType = TypeStopLimit
	}
	stopReq := OrderRequest{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      stopType,
		Amount:    req.Amount,
		Price:     stopLimitPrice,
		StopPrice: req.StopPrice,
	}
	stopID, err := gw.ExecuteOrder(ctx, stopReq)
	if err != nil {
		if cancelErr := gw.CancelOrder(ctx, limitID, req.Symbol); cancelErr != nil && log != nil {
			log.Warnw("failed to roll back OCO limit leg after stop leg rejection", "venue", gw.ID(), "limitID", limitID, "err", cancelErr)
		}
		return OCOResult{}, err
	}

	return OCOResult{LimitID: limitID, StopID: stopID, Paired: true}, nil
}
