package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emarsync/internal/schema"
	"emarsync/internal/testsupport"
)

func TestGormModel(t *testing.T) {
	ctx := context.Background()
	db := testsupport.SetupTestDB(t)
	users, err := schema.NewGormModel[testsupport.User](db)
	require.NoError(t, err)

	alice := testsupport.CreateUser(t, db, "alice@example.com")
	bob := testsupport.CreateUser(t, db, "bob@example.com")

	t.Run("owns pointers and values of its type", func(t *testing.T) {
		assert.True(t, users.Owns(alice))
		assert.True(t, users.Owns(*alice))
		assert.False(t, users.Owns(&testsupport.Product{ID: 1}))
		assert.False(t, users.Owns("alice@example.com"))
		assert.False(t, users.Owns((*testsupport.User)(nil)))
	})

	t.Run("primary key", func(t *testing.T) {
		key, err := users.PrimaryKey(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, key)

		_, err = users.PrimaryKey(ctx, &testsupport.User{Email: "unsaved@example.com"})
		assert.Error(t, err)
	})

	t.Run("get", func(t *testing.T) {
		found, err := users.Get(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, bob, found)

		missing, err := users.Get(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("get many keeps key order and skips missing", func(t *testing.T) {
		found, err := users.GetMany(ctx, []uint{bob.ID, 9999, alice.ID})
		require.NoError(t, err)
		assert.Equal(t, []any{bob, alice}, found)
	})
}

func TestTypesRegister(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	products, err := schema.NewGormModel[testsupport.Product](db)
	require.NoError(t, err)

	types := schema.NewTypes()
	require.NoError(t, types.Register("shop.Product", products))

	var cfgErr *schema.ConfigurationError
	assert.ErrorAs(t, types.Register("shop.Product", products), &cfgErr)
	assert.ErrorAs(t, types.Register("string", products), &cfgErr)

	_, ok := types.Lookup("shop.Product")
	assert.True(t, ok)
	_, ok = types.Lookup("auth.User")
	assert.False(t, ok)
}
