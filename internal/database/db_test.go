package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsCoverAllTables(t *testing.T) {
	stmts := Statements()
	require.Len(t, stmts, 5)
	for i, table := range []string{"users", "refresh_tokens", "parking_spots", "reservations", "parking_sessions"} {
		assert.True(t, strings.HasPrefix(stmts[i], "CREATE TABLE IF NOT EXISTS "+table+" "), stmts[i])
	}
}
