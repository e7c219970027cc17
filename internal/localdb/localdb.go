package localdb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"go.uber.org/zap"
)

var DBClient *sql.DB

// SetupDB opens (or creates) the sqlite database and ensures the schema.
func SetupDB(dbPath string) (*sql.DB, error) {
	if DBClient != nil {
		return DBClient, nil
	}

	// WALモードとBusy Timeoutを設定（Race Condition対策）
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLiteは単一ライターなので接続プールを1に制限
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	DBClient = db
	return db, nil
}

func createSchema(db *sql.DB) error {
	// デバイス名→モデルの対応（ユーザーが曖昧デバイスを解決したときに保存）
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS device_mappings (
		device_name TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		tape_width_mm INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create device_mappings table", zap.Error(err))
		return fmt.Errorf("failed to create device_mappings table: %w", err)
	}

	// 印刷ジョブ履歴
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS print_jobs (
		id TEXT PRIMARY KEY,
		device_name TEXT,
		model TEXT,
		records_total INTEGER NOT NULL DEFAULT 1,
		records_done INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create print_jobs table", zap.Error(err))
		return fmt.Errorf("failed to create print_jobs table: %w", err)
	}

	// settingsテーブル（濃度などの永続デフォルト）
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create settings table", zap.Error(err))
		return fmt.Errorf("failed to create settings table: %w", err)
	}

	return nil
}

// GetDB は現在のデータベース接続を返します
func GetDB() *sql.DB {
	return DBClient
}

// GetSetting reads one settings value; ok=false when unset.
func GetSetting(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts one settings value.
func SetSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}
