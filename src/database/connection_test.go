package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apimgr/weatherapi/src/config"
)

func TestResolveDSN(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.DatabaseConfig
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{
			name:       "sqlite file",
			cfg:        config.DatabaseConfig{Type: "sqlite", Name: "weather.db"},
			wantDriver: DriverSQLite,
			wantDSN:    "file:weather.db?",
		},
		{
			name:       "sqlite memory",
			cfg:        config.DatabaseConfig{Type: "sqlite", Name: ":memory:"},
			wantDriver: DriverSQLite,
			wantDSN:    "file::memory:?",
		},
		{
			name:    "sqlite without path",
			cfg:     config.DatabaseConfig{Type: "sqlite"},
			wantErr: true,
		},
		{
			name:       "postgres fields",
			cfg:        config.DatabaseConfig{Type: "postgres", Host: "db", Name: "weather", Username: "app", Password: "pw"},
			wantDriver: DriverPostgres,
			wantDSN:    "postgres://app:pw@db:5432/weather?sslmode=disable",
		},
		{
			name:       "mysql fields",
			cfg:        config.DatabaseConfig{Type: "mysql", Host: "db", Port: 3307, Name: "weather", Username: "app", Password: "pw"},
			wantDriver: DriverMySQL,
			wantDSN:    "app:pw@tcp(db:3307)/weather",
		},
		{
			name:       "mssql fields",
			cfg:        config.DatabaseConfig{Type: "mssql", Host: "db", Name: "weather", Username: "sa", Password: "pw"},
			wantDriver: DriverMSSQL,
			wantDSN:    "sqlserver://sa:pw@db:1433",
		},
		{
			name:       "url wins over fields",
			cfg:        config.DatabaseConfig{Type: "mysql", URL: "postgres://u:p@h/db"},
			wantDriver: DriverPostgres,
			wantDSN:    "postgres://u:p@h/db",
		},
		{
			name:    "unknown type",
			cfg:     config.DatabaseConfig{Type: "mongodb"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := resolveDSN(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.True(t, strings.HasPrefix(dsn, tt.wantDSN), "dsn %q should start with %q", dsn, tt.wantDSN)
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	driver, dsn, err := ParseConnectionString("sqlite:///var/lib/weather.db")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, driver)
	assert.True(t, strings.HasPrefix(dsn, "file:/var/lib/weather.db?"))

	driver, dsn, err = ParseConnectionString("mysql://app:pw@db/weather")
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, driver)
	assert.True(t, strings.HasPrefix(dsn, "app:pw@tcp(db:3306)/weather"))

	driver, dsn, err = ParseConnectionString("mssql://sa:pw@db:1433?database=weather")
	require.NoError(t, err)
	assert.Equal(t, DriverMSSQL, driver)
	assert.Equal(t, "sqlserver://sa:pw@db:1433?database=weather", dsn)

	_, _, err = ParseConnectionString("redis://localhost")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	query := "SELECT id FROM users WHERE login = ? AND id > ?"

	assert.Equal(t, query, (&DB{Driver: DriverSQLite}).Rebind(query))
	assert.Equal(t, query, (&DB{Driver: DriverMySQL}).Rebind(query))
	assert.Equal(t, "SELECT id FROM users WHERE login = $1 AND id > $2", (&DB{Driver: DriverPostgres}).Rebind(query))
	assert.Equal(t, "SELECT id FROM users WHERE login = @p1 AND id > @p2", (&DB{Driver: DriverMSSQL}).Rebind(query))
}

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, 1, count)

	for _, table := range []string{"users", "items", "blacklist", "scheduler_history"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	insert := "INSERT INTO users (login, password_hash, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)"
	_, err = db.Exec(insert, "alice", "x")
	require.NoError(t, err)

	_, err = db.Exec(insert, "alice", "y")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))
}
