package server

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/oracle"
)

// PriceUpdateRequest is the JSON body for POST /api/v1/prices. Max defaults
// to Min when omitted.
type PriceUpdateRequest struct {
	Token string          `json:"token"`
	Min   decimal.Decimal `json:"min"`
	Max   decimal.Decimal `json:"max"`
}

// PriceUpdateHandler pushes quotes into a static price source. Dev-server
// only; deployments with a real aggregator never mount this route.
func PriceUpdateHandler(prices *oracle.StaticSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PriceUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Token == "" || !req.Min.IsPositive() {
			writeError(w, "token and a positive min price are required", http.StatusBadRequest)
			return
		}
		if !req.Max.IsPositive() {
			req.Max = req.Min
		}
		if req.Max.LessThan(req.Min) {
			writeError(w, "max price below min", http.StatusBadRequest)
			return
		}
		prices.SetSpread(req.Token, req.Min, req.Max)
		writeJSON(w, http.StatusOK, req)
	}
}
