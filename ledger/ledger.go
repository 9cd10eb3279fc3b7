// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

// Package ledger implements the per-user credit balance with an append-only
// transaction log. Every public call executes in a single store transaction
// over the user record and the transaction rows, so no partial state is ever
// observable: a balance change without its matching row cannot happen.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/log"
	"github.com/jackg825/dream-forge-web-sub001/storage"
)

var (
	// ErrInsufficientCredits is returned when a debit exceeds the balance.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUnknownUser is returned when the user record does not exist.
	ErrUnknownUser = errors.New("unknown user")
)

// Ledger mediates all credit mutations.
type Ledger struct {
	store  *storage.Store
	logger log.Logger
}

// New creates a ledger over the given document store.
func New(store *storage.Store) *Ledger {
	return &Ledger{store: store, logger: log.New("module", "ledger")}
}

// HasCredits reports whether the user's balance covers amount.
func (l *Ledger) HasCredits(userID string, amount int) (bool, error) {
	u, err := l.store.GetUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrUnknownUser
	}
	if err != nil {
		return false, err
	}
	return u.Credits >= int64(amount), nil
}

// Balance returns the user's current credit balance.
func (l *Ledger) Balance(userID string) (int64, error) {
	u, err := l.store.GetUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

// Deduct atomically verifies the balance, decrements it and appends a
// consume row tagged with jobID.
func (l *Ledger) Deduct(userID string, amount int, jobID string) error {
	return l.store.Update(func(tx *storage.Txn) error {
		return l.DeductIn(tx, userID, amount, jobID)
	})
}

// DeductIn is Deduct running inside an existing transaction, letting the
// pipeline engine pair the debit with a state transition atomically.
func (l *Ledger) DeductIn(tx *storage.Txn, userID string, amount int, jobID string) error {
	if amount <= 0 {
		return fmt.Errorf("invalid debit amount %d", amount)
	}
	u, err := tx.User(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownUser
	}
	if err != nil {
		return err
	}
	if u.Credits < int64(amount) {
		return ErrInsufficientCredits
	}
	u.Credits -= int64(amount)
	u.UpdatedAt = time.Now().UTC()
	if err := tx.PutUser(u); err != nil {
		return err
	}
	l.logger.Debug("Deducting credits", "user", userID, "amount", amount, "job", jobID)
	return tx.AppendTransaction(&types.CreditTransaction{
		UserID:    userID,
		Type:      types.TxConsume,
		Amount:    -int64(amount),
		JobID:     jobID,
		CreatedAt: u.UpdatedAt,
	})
}

// Refund atomically increments the balance and appends a refund row tagged
// with jobID. Idempotency is the caller's responsibility: the engine only
// refunds a stage whose creditsCharged field is still non-zero, inside the
// same logical transition that zeroes it.
func (l *Ledger) Refund(userID string, amount int, jobID string) error {
	return l.store.Update(func(tx *storage.Txn) error {
		return l.RefundIn(tx, userID, amount, jobID)
	})
}

// RefundIn is Refund running inside an existing transaction.
func (l *Ledger) RefundIn(tx *storage.Txn, userID string, amount int, jobID string) error {
	if amount <= 0 {
		return fmt.Errorf("invalid refund amount %d", amount)
	}
	u, err := tx.User(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownUser
	}
	if err != nil {
		return err
	}
	u.Credits += int64(amount)
	u.UpdatedAt = time.Now().UTC()
	if err := tx.PutUser(u); err != nil {
		return err
	}
	l.logger.Debug("Refunding credits", "user", userID, "amount", amount, "job", jobID)
	return tx.AppendTransaction(&types.CreditTransaction{
		UserID:    userID,
		Type:      types.TxRefund,
		Amount:    int64(amount),
		JobID:     jobID,
		CreatedAt: u.UpdatedAt,
	})
}

// Grant credits a user outside the pipeline flow (purchases, signup bonus).
// Creates the user record on first grant.
func (l *Ledger) Grant(userID string, amount int, kind types.TxType) error {
	if amount <= 0 {
		return fmt.Errorf("invalid grant amount %d", amount)
	}
	if kind != types.TxPurchase && kind != types.TxBonus {
		return fmt.Errorf("invalid grant type %q", kind)
	}
	return l.store.Update(func(tx *storage.Txn) error {
		u, err := tx.User(userID)
		if errors.Is(err, storage.ErrNotFound) {
			u = &types.UserRecord{ID: userID}
		} else if err != nil {
			return err
		}
		u.Credits += int64(amount)
		u.UpdatedAt = time.Now().UTC()
		if err := tx.PutUser(u); err != nil {
			return err
		}
		return tx.AppendTransaction(&types.CreditTransaction{
			UserID:    userID,
			Type:      kind,
			Amount:    int64(amount),
			CreatedAt: u.UpdatedAt,
		})
	})
}

// IncrementGenerationCount bumps the user's lifetime generation counter.
// Analytics only; no credit effect.
func (l *Ledger) IncrementGenerationCount(userID string) error {
	return l.store.Update(func(tx *storage.Txn) error {
		return l.IncrementGenerationCountIn(tx, userID)
	})
}

// IncrementGenerationCountIn is IncrementGenerationCount inside an existing
// transaction.
func (l *Ledger) IncrementGenerationCountIn(tx *storage.Txn, userID string) error {
	u, err := tx.User(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownUser
	}
	if err != nil {
		return err
	}
	u.TotalGenerated++
	u.UpdatedAt = time.Now().UTC()
	return tx.PutUser(u)
}

// SumForJob returns the signed sum over all ledger rows tagged with jobID.
// Property P1: for a pipeline this equals the negated total of its
// creditsCharged fields.
func (l *Ledger) SumForJob(jobID string) (int64, error) {
	rows, err := l.store.TransactionsForJob(jobID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, row := range rows {
		sum += row.Amount
	}
	return sum, nil
}
