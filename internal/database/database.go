package database

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config carries everything needed to open the ticket store.
type Config struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	Path            string // sqlite only
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var activeDriver = "postgres"

// Connect opens and pings the database, remembering the driver so dialect
// helpers work without threading it through every query site.
func Connect(cfg Config) (*sqlx.DB, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "postgres"
	}

	var dsn string
	switch driver {
	case "postgres":
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslMode)
	case "mysql":
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	case "sqlite3":
		path := cfg.Path
		if path == "" {
			path = "flowdesk.db"
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	activeDriver = driver
	return db, nil
}

// SetDriver overrides the active driver. Tests use this together with an
// in-memory sqlite database.
func SetDriver(driver string) {
	activeDriver = strings.ToLower(driver)
}

// Driver returns the active driver name.
func Driver() string { return activeDriver }

// IsPostgreSQL reports whether the active driver is PostgreSQL.
func IsPostgreSQL() bool { return activeDriver == "postgres" }

// IsMySQL reports whether the active driver is MySQL/MariaDB.
func IsMySQL() bool { return activeDriver == "mysql" || activeDriver == "mariadb" }

// IsSQLite reports whether the active driver is SQLite.
func IsSQLite() bool { return activeDriver == "sqlite3" }

var placeholderRe = regexp.MustCompile(`\$\d+`)

// ConvertPlaceholders rewrites PostgreSQL-style $N placeholders to ? for
// drivers that do not understand them. Queries are written in PostgreSQL
// form everywhere and converted at the call site.
func ConvertPlaceholders(query string) string {
	if IsPostgreSQL() {
		return query
	}
	result := query
	for _, placeholder := range placeholderRe.FindAllString(query, -1) {
		result = strings.Replace(result, placeholder, "?", 1)
	}
	if IsMySQL() {
		result = strings.ReplaceAll(result, " ILIKE ", " LIKE ")
		result = strings.ReplaceAll(result, " ilike ", " LIKE ")
	}
	if IsSQLite() {
		result = strings.ReplaceAll(result, " ILIKE ", " LIKE ")
	}
	return result
}
