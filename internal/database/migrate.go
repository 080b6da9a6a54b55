package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the schema if it does not exist. Statements are written
// once and patched per dialect; the column set mirrors internal/models.
func Migrate(db *sqlx.DB) error {
	for _, stmt := range schemaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func schemaStatements() []string {
	serial := "SERIAL PRIMARY KEY"
	now := "NOW()"
	switch {
	case IsMySQL():
		serial = "INT AUTO_INCREMENT PRIMARY KEY"
	case IsSQLite():
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
		now = "CURRENT_TIMESTAMP"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(36) PRIMARY KEY,
			workspace_id VARCHAR(64) NOT NULL,
			message_id VARCHAR(998) NOT NULL,
			uid INTEGER NOT NULL DEFAULT 0,
			from_name TEXT NOT NULL DEFAULT '',
			from_address VARCHAR(320) NOT NULL DEFAULT '',
			recipients TEXT NOT NULL DEFAULT '[]',
			subject TEXT NOT NULL DEFAULT '',
			body_text TEXT NOT NULL DEFAULT '',
			body_html TEXT NOT NULL DEFAULT '',
			attachments TEXT NOT NULL DEFAULT '[]',
			in_reply_to TEXT NOT NULL DEFAULT '',
			refs TEXT NOT NULL DEFAULT '[]',
			thread_id TEXT NOT NULL DEFAULT '',
			starred BOOLEAN NOT NULL DEFAULT FALSE,
			ticket_job_id VARCHAR(32) NOT NULL DEFAULT '',
			date TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			CONSTRAINT uq_messages_workspace_message UNIQUE (workspace_id, message_id)
		)`, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tickets (
			id %s,
			workspace_id VARCHAR(64) NOT NULL,
			job_id VARCHAR(32) NOT NULL,
			client_name TEXT NOT NULL DEFAULT '',
			client_email VARCHAR(320) NOT NULL DEFAULT '',
			consultant TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL DEFAULT 'not_assigned',
			new_client BOOLEAN NOT NULL DEFAULT FALSE,
			owner TEXT NOT NULL DEFAULT '',
			team_leads TEXT NOT NULL DEFAULT '[]',
			team_members TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			messages TEXT NOT NULL DEFAULT '[]',
			merge_count INTEGER NOT NULL DEFAULT 0,
			merge_history TEXT NOT NULL DEFAULT '[]',
			message_id VARCHAR(998) NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			in_process_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			updated_at TIMESTAMP NOT NULL DEFAULT %s,
			CONSTRAINT uq_tickets_job UNIQUE (job_id),
			CONSTRAINT uq_tickets_workspace_message UNIQUE (workspace_id, message_id)
		)`, serial, now, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS job_counters (
			prefix VARCHAR(16) PRIMARY KEY,
			counter BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS clients (
			id %s,
			email VARCHAR(320) NOT NULL DEFAULT '',
			domain VARCHAR(255) NOT NULL DEFAULT '',
			client_name TEXT NOT NULL DEFAULT '',
			account_name TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			consultant TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, serial, now),
	}
}

// Indexes are created separately because MySQL has no IF NOT EXISTS form;
// duplicate-index errors there are ignored.
func EnsureIndexes(db *sqlx.DB) error {
	stmts := []string{
		`CREATE INDEX idx_messages_ticket_job ON messages (ticket_job_id)`,
		`CREATE INDEX idx_clients_email ON clients (email)`,
		`CREATE INDEX idx_clients_domain ON clients (domain)`,
	}
	for _, stmt := range stmts {
		if !IsMySQL() {
			stmt = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		if _, err := db.Exec(stmt); err != nil {
			if IsMySQL() && strings.Contains(strings.ToLower(err.Error()), "duplicate key name") {
				continue
			}
			return fmt.Errorf("ensure indexes: %w", err)
		}
	}
	return nil
}
