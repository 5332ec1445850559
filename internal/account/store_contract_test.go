package account

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract は Store 実装が満たすべき振る舞いを検証します。
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert assigns id and created_at", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Insert(ctx, &Account{Username: "alice", Email: "alice@example.com", CredentialRecord: "rec"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, "alice", created.Username)
		assert.Equal(t, "rec", created.CredentialRecord)
	})

	t.Run("lookup by username or email", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Insert(ctx, &Account{Username: "bob", Email: "bob@example.com", CredentialRecord: "rec"})
		require.NoError(t, err)

		byName, err := store.FindByUsernameOrEmail(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byName.ID)

		byEmail, err := store.FindByUsernameOrEmail(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byEmail.ID)
		assert.Equal(t, "rec", byEmail.CredentialRecord)

		_, err = store.FindByUsernameOrEmail(ctx, "Bob")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.FindByUsernameOrEmail(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("exists checks", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Insert(ctx, &Account{Username: "carol", Email: "carol@example.com", CredentialRecord: "rec"})
		require.NoError(t, err)

		ok, err := store.ExistsByUsername(ctx, "carol")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.ExistsByUsername(ctx, "dave")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.ExistsByEmail(ctx, "carol@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.ExistsByEmail(ctx, "dave@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unique constraints", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Insert(ctx, &Account{Username: "erin", Email: "erin@example.com", CredentialRecord: "rec"})
		require.NoError(t, err)

		_, err = store.Insert(ctx, &Account{Username: "erin", Email: "other@example.com", CredentialRecord: "rec"})
		var violation *ConstraintViolationError
		require.True(t, errors.As(err, &violation))
		assert.Equal(t, FieldUsername, violation.Field)

		_, err = store.Insert(ctx, &Account{Username: "erin2", Email: "erin@example.com", CredentialRecord: "rec"})
		require.True(t, errors.As(err, &violation))
		assert.Equal(t, FieldEmail, violation.Field)

		// 失敗した挿入で索引が汚れていないこと
		ok, err := store.ExistsByUsername(ctx, "erin2")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
