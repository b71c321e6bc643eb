// Package tools holds the tool bodies the registry dispatches to. Each
// tool drives its own collect → approve → execute flow through the state,
// approval, and schedule managers; external side effects go through the
// injected client contracts below.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// TwitterClient posts tweets. Implementations must be idempotent keyed by
// itemID: re-posting an already posted item returns the original response.
type TwitterClient interface {
	PostTweet(ctx context.Context, itemID, text string) (map[string]any, error)
}

// NearClient performs token operations against the intents contract.
// Swap must be idempotent keyed by itemID.
type NearClient interface {
	Deposit(ctx context.Context, token string, amount float64) (map[string]any, error)
	Withdraw(ctx context.Context, token string, amount float64, destination, chain string) (map[string]any, error)
	Swap(ctx context.Context, itemID, fromToken string, fromAmount float64, toToken string) (map[string]any, error)
}

// PriceClient quotes the current price of fromToken denominated in toToken.
type PriceClient interface {
	Price(ctx context.Context, fromToken, toToken string) (float64, error)
}

// DryRunTwitterClient logs posts instead of sending them. Used by the CLI
// when no real integration is wired.
type DryRunTwitterClient struct {
	Logger *slog.Logger
}

func (c *DryRunTwitterClient) PostTweet(ctx context.Context, itemID, text string) (map[string]any, error) {
	if c.Logger != nil {
		c.Logger.Info("dry-run tweet", "item_id", itemID, "text", text)
	}
	return map[string]any{"tweet_id": "dry-" + itemID, "dry_run": true}, nil
}

// DryRunNearClient simulates token operations.
type DryRunNearClient struct {
	Logger *slog.Logger
}

func (c *DryRunNearClient) Deposit(ctx context.Context, token string, amount float64) (map[string]any, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid deposit amount %v", amount)
	}
	if c.Logger != nil {
		c.Logger.Info("dry-run deposit", "token", token, "amount", amount)
	}
	return map[string]any{"tx_id": uuid.NewString(), "dry_run": true}, nil
}

func (c *DryRunNearClient) Withdraw(ctx context.Context, token string, amount float64, destination, chain string) (map[string]any, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid withdraw amount %v", amount)
	}
	if c.Logger != nil {
		c.Logger.Info("dry-run withdraw", "token", token, "amount", amount, "destination", destination, "chain", chain)
	}
	return map[string]any{"tx_id": uuid.NewString(), "dry_run": true}, nil
}

func (c *DryRunNearClient) Swap(ctx context.Context, itemID, fromToken string, fromAmount float64, toToken string) (map[string]any, error) {
	if fromAmount <= 0 {
		return nil, fmt.Errorf("invalid swap amount %v", fromAmount)
	}
	if c.Logger != nil {
		c.Logger.Info("dry-run swap", "item_id", itemID, "from", fromToken, "amount", fromAmount, "to", toToken)
	}
	return map[string]any{"tx_id": "dry-" + itemID, "dry_run": true}, nil
}

// StaticPriceClient returns a fixed quote for every pair.
type StaticPriceClient struct {
	Quote float64
}

func (c *StaticPriceClient) Price(ctx context.Context, fromToken, toToken string) (float64, error) {
	return c.Quote, nil
}
