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

package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newStore(t)

	_, err := s.GetUser("u1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Update(func(tx *Txn) error {
		return tx.PutUser(&types.UserRecord{ID: "u1", Credits: 42})
	}))
	u, err := s.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.Credits)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := newStore(t)
	boom := errors.New("boom")

	err := s.Update(func(tx *Txn) error {
		if err := tx.PutUser(&types.UserRecord{ID: "u1", Credits: 7}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetUser("u1")
	assert.ErrorIs(t, err, ErrNotFound, "aborted transaction must leave no trace")
}

func TestTxnReadsOwnWrites(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Update(func(tx *Txn) error {
		if err := tx.PutUser(&types.UserRecord{ID: "u1", Credits: 5}); err != nil {
			return err
		}
		u, err := tx.User("u1")
		if err != nil {
			return err
		}
		u.Credits += 5
		return tx.PutUser(u)
	}))
	u, err := s.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Credits)
}

func TestListPipelinesFilterAndOrder(t *testing.T) {
	s := newStore(t)
	base := time.Now().UTC()

	put := func(id string, user string, status types.Status, age time.Duration) {
		require.NoError(t, s.Update(func(tx *Txn) error {
			return tx.PutPipeline(&types.Pipeline{
				ID: id, UserID: user, Status: status, CreatedAt: base.Add(-age),
			})
		}))
	}
	put("a", "u1", types.StatusDraft, 3*time.Hour)
	put("b", "u1", types.StatusCompleted, 2*time.Hour)
	put("c", "u1", types.StatusDraft, time.Hour)
	put("d", "u2", types.StatusDraft, time.Minute)

	all, err := s.ListPipelines("u1", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")
	assert.Equal(t, "a", all[2].ID)

	drafts, err := s.ListPipelines("u1", types.StatusDraft, 0)
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	capped, err := s.ListPipelines("u1", "", 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "c", capped[0].ID)

	other, err := s.ListPipelines("u3", "", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestTransactionsForJobAppendOrder(t *testing.T) {
	s := newStore(t)

	for _, amount := range []int64{-3, -5, 5} {
		require.NoError(t, s.Update(func(tx *Txn) error {
			return tx.AppendTransaction(&types.CreditTransaction{
				UserID: "u1", JobID: "job-1", Amount: amount, Type: types.TxConsume,
			})
		}))
	}
	require.NoError(t, s.Update(func(tx *Txn) error {
		return tx.AppendTransaction(&types.CreditTransaction{
			UserID: "u1", JobID: "job-2", Amount: -8, Type: types.TxConsume,
		})
	}))

	rows, err := s.TransactionsForJob("job-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(-3), rows[0].Amount)
	assert.Equal(t, int64(5), rows[2].Amount)
	for _, row := range rows {
		assert.NotEmpty(t, row.ID)
	}
}

func TestSequenceRecovery(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Update(func(tx *Txn) error {
			return tx.AppendTransaction(&types.CreditTransaction{UserID: "u1", JobID: "j", Amount: -1})
		}))
	}
	require.NoError(t, s.Close())

	// Reopen: the sequence counter must continue, not restart.
	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Update(func(tx *Txn) error {
		return tx.AppendTransaction(&types.CreditTransaction{UserID: "u1", JobID: "j", Amount: -1})
	}))

	rows, err := s.TransactionsForJob("j")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "0000000000000004", rows[3].ID)
}
