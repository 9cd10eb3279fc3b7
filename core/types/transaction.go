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

package types

import "time"

// TxType categorizes a credit ledger row.
type TxType string

const (
	TxConsume  TxType = "consume"
	TxBonus    TxType = "bonus"
	TxRefund   TxType = "refund"
	TxPurchase TxType = "purchase"
)

// CreditTransaction is one append-only ledger row. Rows are immutable once
// written; a refund is a new row, never a mutation of the original debit.
type CreditTransaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      TxType    `json:"type"`
	Amount    int64     `json:"amount"` // signed: consume rows are negative
	JobID     string    `json:"jobId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserRecord is the per-user account document holding the credit balance.
type UserRecord struct {
	ID             string    `json:"id"`
	Credits        int64     `json:"credits"`
	TotalGenerated int64     `json:"totalGenerated"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
