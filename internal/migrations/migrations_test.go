package migrations

import (
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestSchemaDeclaresLedgerAndBillConstraints(t *testing.T) {
	raw, err := fs.ReadFile(files, "sql/0001_init.up.sql")
	require.NoError(t, err)
	schema := string(raw)

	for _, fragment := range []string{
		"UNIQUE (company_id, bill_number)",
		"CHECK (closing = opening + purchase - sales)",
		"CREATE TABLE IF NOT EXISTS stock_ledger_archive",
		"CREATE TABLE IF NOT EXISTS ledger_partitions",
		"CREATE TABLE IF NOT EXISTS bill_sequences",
	} {
		assert.Contains(t, schema, fragment)
	}
}

func TestMigrateUpAndDown(t *testing.T) {
	databaseURL := os.Getenv("EXCISEPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set EXCISEPOS_TEST_DATABASE_URL to run migration integration test")
	}

	m, err := Open(databaseURL, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Up())
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())
}
