// Package orders manages the lifecycle of individual exchange orders: the
// entry, stop-loss and take-profit legs of a position.
package orders

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildClientOrderID derives the deterministic client order id for a leg.
// Format: {decision_id}_{position_id}_{role}. Because the id is stable
// across cycles, a retried cycle can never place a duplicate entry order.
func BuildClientOrderID(decisionID, positionID int64, role string) string {
	return fmt.Sprintf("%d_%d_%s", decisionID, positionID, role)
}

// ParsedClientOrderID is the decomposed form of a client order id
type ParsedClientOrderID struct {
	DecisionID int64
	PositionID int64
	Role       string
}

// ParseClientOrderID decomposes a client order id, returning nil when the
// id was not produced by BuildClientOrderID (e.g. a manually placed order).
func ParseClientOrderID(id string) *ParsedClientOrderID {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 {
		return nil
	}
	decisionID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil
	}
	positionID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if parts[2] == "" {
		return nil
	}
	return &ParsedClientOrderID{
		DecisionID: decisionID,
		PositionID: positionID,
		Role:       parts[2],
	}
}
