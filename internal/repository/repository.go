// Package repository implements the roster, payment ledger, and directory
// queries on PostgreSQL. It uses pgx directly (no ORM).
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadySettled is returned when a payment is settled again with the
// outcome it already has. Callback handlers treat it as success.
var ErrAlreadySettled = errors.New("payment already settled")

// ErrSettlementConflict is returned when a settled payment is settled again
// with a different outcome. The stored record is left untouched.
var ErrSettlementConflict = errors.New("payment already settled with a different outcome")

// ErrInvalidOutcome is returned when Settle is called with a non-terminal status.
var ErrInvalidOutcome = errors.New("settlement outcome must be paid or failed")

// PaymentIDGenerator issues merchant transaction ids. A snowflake id is
// unique per node (time, node, sequence); the random suffix keeps ids apart
// when two processes are misconfigured with the same node id.
type PaymentIDGenerator struct {
	node *snowflake.Node
}

// NewPaymentIDGenerator builds a generator for the given snowflake node (0-1023).
func NewPaymentIDGenerator(nodeID int64) (*PaymentIDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &PaymentIDGenerator{node: node}, nil
}

// NewID returns a fresh id such as MT1795112371216453632A1B2C3, short enough
// for the provider's 35 character limit.
func (g *PaymentIDGenerator) NewID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "MT" + g.node.Generate().String() + suffix
}
