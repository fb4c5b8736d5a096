package postgres

import (
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)

	up, _, err := src.ReadUp(first)
	require.NoError(t, err)
	_ = up.Close()

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	_ = down.Close()

	next, err := src.Next(first)
	require.NoError(t, err)
	require.Equal(t, uint(2), next)
}

func TestNonNil(t *testing.T) {
	require.NotNil(t, nonNil(nil))
	require.Empty(t, nonNil(nil))
	require.Equal(t, []string{"a"}, nonNil([]string{"a"}))
}
