package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulation tokens
const (
	SimTokenPrefix  = "sim_"
	SimErrorPrefix  = "sim_error"
	SimTimeoutToken = "sim_timeout"
)

// SimulatedGateway settles sim_ tokens without contacting anyone
type SimulatedGateway struct {
	config  *SimulatedGatewayConfig
	charges sync.Map // transactionID -> decimal.Decimal
}

// SimulatedGatewayConfig holds configuration for the simulated gateway
type SimulatedGatewayConfig struct {
	// SuccessRate is the probability a sim_ token settles (0.0 to 1.0)
	SuccessRate float64
	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int
}

// DefaultSimulatedGatewayConfig returns default configuration
func DefaultSimulatedGatewayConfig() *SimulatedGatewayConfig {
	return &SimulatedGatewayConfig{SuccessRate: 1.0}
}

// NewSimulatedGateway creates a new simulated gateway
func NewSimulatedGateway(config *SimulatedGatewayConfig) *SimulatedGateway {
	if config == nil {
		config = DefaultSimulatedGatewayConfig()
	}
	config.SuccessRate = max(0, min(1, config.SuccessRate))
	return &SimulatedGateway{config: config}
}

var _ PaymentGateway = (*SimulatedGateway)(nil)

func declined(code, reason string) *ChargeResponse {
	return &ChargeResponse{Status: "failed", FailureCode: code, FailureReason: reason}
}

// Charge settles or declines based on the token
func (g *SimulatedGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("charge request is required")
	}

	if g.config.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		}
	}

	switch {
	case req.Token == SimTimeoutToken:
		<-ctx.Done()
		return nil, ctx.Err()
	case strings.HasPrefix(req.Token, SimErrorPrefix):
		return declined("card_declined", "simulated decline"), nil
	case !strings.HasPrefix(req.Token, SimTokenPrefix):
		return declined("invalid_token", "simulation mode requires tokens starting with sim_"), nil
	case rand.Float64() >= g.config.SuccessRate:
		return declined("processing_error", "simulated random failure"), nil
	}

	txn := "sim_txn_" + uuid.New().String()[:8]
	g.charges.Store(txn, req.Amount)
	return &ChargeResponse{
		Success:       true,
		TransactionID: txn,
		Status:        "succeeded",
	}, nil
}

// Refund forgets a simulated charge
func (g *SimulatedGateway) Refund(_ context.Context, transactionID string, amount decimal.Decimal) error {
	v, ok := g.charges.Load(transactionID)
	if !ok {
		return fmt.Errorf("transaction %s not found", transactionID)
	}
	if amount.GreaterThan(v.(decimal.Decimal)) {
		return fmt.Errorf("refund %s exceeds charge %s", amount, v)
	}
	g.charges.Delete(transactionID)
	return nil
}

// Name returns the gateway name
func (g *SimulatedGateway) Name() string {
	return "simulated"
}
