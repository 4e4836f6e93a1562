package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNWithSearchPath(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"url", "postgres://u:p@localhost:5432/db?sslmode=disable", "postgres://u:p@localhost:5432/db?search_path=t_x&sslmode=disable"},
		{"keyword", "host=localhost dbname=db", "host=localhost dbname=db search_path=t_x"},
		{"keyword replaces", "host=localhost search_path=public", "host=localhost search_path=t_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dsnWithSearchPath(tt.dsn, "t_x")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSchemaName(t *testing.T) {
	name := newSchemaName("Postgres-Store!")
	assert.True(t, strings.HasPrefix(name, "t_postgres_store_"), name)
	assert.LessOrEqual(t, len(name), 63)

	assert.True(t, strings.HasPrefix(newSchemaName("---"), "t_test_"))
	assert.NotEqual(t, newSchemaName("a"), newSchemaName("a"))
}
