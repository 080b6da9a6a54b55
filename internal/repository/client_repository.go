package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/database"
	"github.com/flowdesk-io/flowdesk/internal/models"
)

// ClientRepository reads the client registry. The registry is imported
// from the CRM side and treated as a lookup table here; this service only
// ever writes to it in fixtures and admin tooling.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository returns a repository over the shared handle.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

type clientRow struct {
	ID          int       `db:"id"`
	Email       string    `db:"email"`
	Domain      string    `db:"domain"`
	ClientName  string    `db:"client_name"`
	AccountName string    `db:"account_name"`
	FirstName   string    `db:"first_name"`
	LastName    string    `db:"last_name"`
	Consultant  string    `db:"consultant"`
	Attributes  string    `db:"attributes"`
	CreatedAt   time.Time `db:"created_at"`
}

const clientColumns = `id, email, domain, client_name, account_name, first_name,
	last_name, consultant, attributes, created_at`

func (r *clientRow) toModel() (*models.Client, error) {
	c := &models.Client{
		ID:          r.ID,
		Email:       r.Email,
		Domain:      r.Domain,
		ClientName:  r.ClientName,
		AccountName: r.AccountName,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Consultant:  r.Consultant,
		CreatedAt:   r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Attributes), &c.Attributes); err != nil {
		return nil, fmt.Errorf("decode client %s attributes: %w", r.Email, err)
	}
	return c, nil
}

// FindByEmail matches the full address case-insensitively.
func (r *ClientRepository) FindByEmail(ctx context.Context, email string) (*models.Client, error) {
	var row clientRow
	q := database.ConvertPlaceholders(`SELECT ` + clientColumns + ` FROM clients
		WHERE LOWER(email) = LOWER($1) LIMIT 1`)
	err := r.db.GetContext(ctx, &row, q, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// FindByDomain returns any client registered under the domain, either via
// the explicit domain column or the domain of its address. This is the
// deliberate fallback that lets new contacts at a known company inherit
// the company's prefix and consultant.
func (r *ClientRepository) FindByDomain(ctx context.Context, domain string) (*models.Client, error) {
	var row clientRow
	q := database.ConvertPlaceholders(`SELECT ` + clientColumns + ` FROM clients
		WHERE LOWER(domain) = LOWER($1) OR LOWER(email) LIKE LOWER($2) LIMIT 1`)
	err := r.db.GetContext(ctx, &row, q, domain, "%@"+strings.ToLower(domain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// FindByEmails is the batch variant used during synthesis to avoid one
// round-trip per sender.
func (r *ClientRepository) FindByEmails(ctx context.Context, emails []string) ([]models.Client, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(emails))
	for _, e := range emails {
		lowered = append(lowered, strings.ToLower(e))
	}
	q, args, err := sqlx.In(`SELECT `+clientColumns+` FROM clients WHERE LOWER(email) IN (?)`, lowered)
	if err != nil {
		return nil, err
	}
	q = r.db.Rebind(q)
	var rows []clientRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]models.Client, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}
