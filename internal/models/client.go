package models

import (
	"time"
)

// Client is one record from the client registry. The registry is owned by
// the CRM side of the product and is read-mostly from this service's point
// of view; Attributes carries schema-on-read fields imported from the
// upstream store, including the job-code field whose key is known to appear
// with a trailing space in older rows.
type Client struct {
	ID          int               `json:"id" db:"id"`
	Email       string            `json:"email" db:"email"`
	Domain      string            `json:"domain" db:"domain"`
	ClientName  string            `json:"client_name" db:"client_name"`
	AccountName string            `json:"account_name" db:"account_name"`
	FirstName   string            `json:"first_name" db:"first_name"`
	LastName    string            `json:"last_name" db:"last_name"`
	Consultant  string            `json:"consultant" db:"consultant"`
	Attributes  map[string]string `json:"attributes"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}
