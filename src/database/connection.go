// Package database opens the SQL store and bootstraps its schema
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/apimgr/weatherapi/src/config"
)

// Supported drivers, as registered with database/sql
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
	DriverMSSQL    = "sqlserver"
)

// Query timeouts
const (
	TimeoutPing      = 5 * time.Second
	TimeoutMigration = 30 * time.Second
)

// DB wraps *sql.DB with the driver name so queries can be rebound to the
// driver's placeholder style
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the database described by cfg and pings it
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	driver, dsn, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection: sqlite serializes writers anyway, and an in-memory
		// database only exists for the connection that created it.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetConnMaxLifetime(3 * time.Minute)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
	}

	pingCtx, cancel := context.WithTimeout(ctx, TimeoutPing)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: sqlDB, Driver: driver}, nil
}

// OpenSQLite opens a sqlite database at path (":memory:" for a throwaway one)
// and creates the schema
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	db, err := Open(ctx, config.DatabaseConfig{Type: "sqlite", Name: path})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// resolveDSN maps the configuration to a driver name and data source name
func resolveDSN(cfg config.DatabaseConfig) (string, string, error) {
	if cfg.URL != "" {
		return ParseConnectionString(cfg.URL)
	}

	switch strings.ToLower(cfg.Type) {
	case "", "sqlite", "sqlite3":
		if cfg.Name == "" {
			return "", "", errors.New("database path required for SQLite")
		}
		return DriverSQLite, sqliteDSN(cfg.Name), nil

	case "postgres", "postgresql":
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.Username, cfg.Password),
			Host:     hostPort(cfg.Host, cfg.Port, 5432),
			Path:     "/" + cfg.Name,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return DriverPostgres, u.String(), nil

	case "mysql", "mariadb":
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = hostPort(cfg.Host, cfg.Port, 3306)
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.Loc = time.UTC
		return DriverMySQL, mc.FormatDSN(), nil

	case "mssql", "sqlserver":
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(cfg.Username, cfg.Password),
			Host:     hostPort(cfg.Host, cfg.Port, 1433),
			RawQuery: url.Values{"database": {cfg.Name}, "encrypt": {"disable"}}.Encode(),
		}
		return DriverMSSQL, u.String(), nil

	default:
		return "", "", fmt.Errorf("unsupported database type: %s. Supported: sqlite, postgres, mysql, mariadb, mssql", cfg.Type)
	}
}

// ParseConnectionString maps a database URL to a driver and DSN.
// Accepted schemes: sqlite, postgres(ql), mysql/mariadb, sqlserver/mssql.
func ParseConnectionString(connString string) (string, string, error) {
	if rest, ok := strings.CutPrefix(connString, "sqlite:"); ok {
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return "", "", errors.New("database path required for SQLite")
		}
		return DriverSQLite, sqliteDSN(path), nil
	}

	u, err := url.Parse(connString)
	if err != nil {
		return "", "", fmt.Errorf("invalid database url: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		// pgx understands the URL form directly
		return DriverPostgres, connString, nil

	case "mysql", "mariadb":
		mc := mysql.NewConfig()
		mc.User = u.User.Username()
		mc.Passwd, _ = u.User.Password()
		mc.Net = "tcp"
		mc.Addr = u.Host
		if u.Port() == "" {
			mc.Addr = hostPort(u.Hostname(), 0, 3306)
		}
		mc.DBName = strings.TrimPrefix(u.Path, "/")
		mc.ParseTime = true
		mc.Loc = time.UTC
		return DriverMySQL, mc.FormatDSN(), nil

	case "sqlserver", "mssql":
		u.Scheme = "sqlserver"
		return DriverMSSQL, u.String(), nil

	default:
		return "", "", fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	return "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)"
}

func hostPort(host string, port, fallback int) string {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = fallback
	}
	return host + ":" + strconv.Itoa(port)
}

// Rebind converts '?' placeholders into the driver's native form
// ($1 for postgres, @p1 for sqlserver). Queries must not contain a literal '?'.
func (db *DB) Rebind(query string) string {
	var prefix string
	switch db.Driver {
	case DriverPostgres:
		prefix = "$"
	case DriverMSSQL:
		prefix = "@p"
	default:
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertID runs an INSERT written with '?' placeholders and returns the
// generated id column. The statement must contain " VALUES ".
func (db *DB) InsertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	switch db.Driver {
	case DriverPostgres:
		err := db.QueryRowContext(ctx, db.Rebind(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	case DriverMSSQL:
		q := strings.Replace(db.Rebind(query), " VALUES ", " OUTPUT INSERTED.id VALUES ", 1)
		err := db.QueryRowContext(ctx, q, args...).Scan(&id)
		return id, err
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// IsUniqueViolation reports whether err is a unique constraint failure from
// any of the supported drivers
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var msErr interface{ SQLErrorNumber() int32 }
	if errors.As(err, &msErr) {
		n := msErr.SQLErrorNumber()
		return n == 2627 || n == 2601
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}
