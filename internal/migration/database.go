package migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"

	"htr/internal/config"
)

// DatabaseManager locates and creates the run history database
type DatabaseManager struct {
	config *config.Config
}

// NewDatabaseManager creates a new DatabaseManager
func NewDatabaseManager(cfg *config.Config) *DatabaseManager {
	return &DatabaseManager{config: cfg}
}

// Enabled reports whether a history database is configured at all
func (dm *DatabaseManager) Enabled() bool {
	dm.loadEnv()
	return dm.config.HistoryDSN != "" || os.Getenv("DB_HOST") != "" || os.Getenv("DB_DATABASE") != ""
}

// DSN returns the connection string of the history database.
// history_dsn (HTR_HISTORY_DSN) wins; otherwise it is built from the DB_* variables.
func (dm *DatabaseManager) DSN() (*mysql.Config, error) {
	dm.loadEnv()

	if dm.config.HistoryDSN != "" {
		cfg, err := mysql.ParseDSN(dm.config.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("invalid history dsn: %w", err)
		}
		if cfg.DBName == "" {
			cfg.DBName = config.DefaultHistoryDatabase
		}
		cfg.ParseTime = true
		return cfg, nil
	}

	// Get database connection info from environment or use defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "127.0.0.1"
	}
	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "3306"
	}
	dbUser := os.Getenv("DB_USERNAME")
	if dbUser == "" {
		dbUser = "root"
	}
	dbName := os.Getenv("DB_DATABASE")
	if dbName == "" {
		dbName = config.DefaultHistoryDatabase
	}

	cfg := mysql.NewConfig()
	cfg.User = dbUser
	cfg.Passwd = os.Getenv("DB_PASSWORD")
	cfg.Net = "tcp"
	cfg.Addr = dbHost + ":" + dbPort
	cfg.DBName = dbName
	cfg.ParseTime = true
	return cfg, nil
}

// CheckAndCreateDatabase makes sure the history database exists and returns its DSN
func (dm *DatabaseManager) CheckAndCreateDatabase(ctx context.Context) (string, error) {
	cfg, err := dm.DSN()
	if err != nil {
		return "", err
	}
	if !isValidDatabaseName(cfg.DBName) {
		return "", fmt.Errorf("invalid database name: %s", cfg.DBName)
	}

	// Connect to MySQL server (without specifying database)
	server := cfg.Clone()
	server.DBName = ""
	db, err := sql.Open("mysql", server.FormatDSN())
	if err != nil {
		return "", fmt.Errorf("failed to connect to database server: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("failed to ping database server: %w", err)
	}

	exists, err := databaseExists(ctx, db, cfg.DBName)
	if err != nil {
		return "", fmt.Errorf("failed to check database %s: %w", cfg.DBName, err)
	}
	if !exists {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.DBName)); err != nil {
			return "", fmt.Errorf("failed to create database %s: %w", cfg.DBName, err)
		}
	}

	return cfg.FormatDSN(), nil
}

func (dm *DatabaseManager) loadEnv() {
	// .env file might not exist, that's okay - use environment variables
	_ = godotenv.Load(filepath.Join(dm.config.WorkingDirectory, ".env"))
}

func databaseExists(ctx context.Context, db *sql.DB, dbName string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?)"
	err := db.QueryRowContext(ctx, query, dbName).Scan(&exists)
	return exists, err
}

// isValidDatabaseName validates database name (basic check)
func isValidDatabaseName(name string) bool {
	if len(name) == 0 || len(name) > 64 {
		return false
	}
	// Check for SQL injection patterns
	invalidChars := []string{"'", "\"", "`", ";", "--", "/*", "*/", "DROP", "DELETE", "TRUNCATE"}
	upperName := strings.ToUpper(name)
	for _, char := range invalidChars {
		if strings.Contains(upperName, char) {
			return false
		}
	}
	return true
}
