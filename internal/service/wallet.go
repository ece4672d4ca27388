package service

import (
	"context"
	"fmt"
	"strconv"

	apperrors "github.com/breqdev/portal-bridge-go/internal/errors"
	"github.com/breqdev/portal-bridge-go/internal/store"
)

func balanceKey(guildID, userID string) string {
	return "currency:balance:" + guildID + ":" + userID
}

// Wallet exposes the slice of the coin economy the payment gate needs:
// guild-scoped integer balances with atomic adjustment. The rest of the
// economy lives elsewhere and shares the same keys.
type Wallet struct {
	store store.Store
}

func NewWallet(s store.Store) *Wallet {
	return &Wallet{store: s}
}

func (w *Wallet) Balance(ctx context.Context, guildID, userID string) (int64, error) {
	raw, err := w.store.Get(ctx, balanceKey(guildID, userID))
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	if raw == "" {
		return 0, nil
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Ensure fails with InsufficientFunds when the balance is below amount.
func (w *Wallet) Ensure(ctx context.Context, guildID, userID string, amount int64) error {
	balance, err := w.Balance(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if balance < amount {
		return apperrors.InsufficientFunds(amount, balance)
	}
	return nil
}

// Withdraw atomically decrements the balance. Callers are expected to have
// run Ensure first; the decrement itself does not re-check.
func (w *Wallet) Withdraw(ctx context.Context, guildID, userID string, amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidInput("amount", "must be positive")
	}
	if _, err := w.store.IncrBy(ctx, balanceKey(guildID, userID), -amount); err != nil {
		return fmt.Errorf("withdraw %d from %s: %w", amount, userID, err)
	}
	return nil
}

// Deposit atomically increments the balance.
func (w *Wallet) Deposit(ctx context.Context, guildID, userID string, amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidInput("amount", "must be positive")
	}
	if _, err := w.store.IncrBy(ctx, balanceKey(guildID, userID), amount); err != nil {
		return fmt.Errorf("deposit %d to %s: %w", amount, userID, err)
	}
	return nil
}
