// Package clients resolves inbound sender addresses against the client
// registry and derives the display name and job-code prefix a ticket is
// filed under.
package clients

import (
	"context"
	"log"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

// Registry is the read-only contract the lookup needs from the client
// store.
type Registry interface {
	FindByEmail(ctx context.Context, email string) (*models.Client, error)
	FindByDomain(ctx context.Context, domain string) (*models.Client, error)
	FindByEmails(ctx context.Context, emails []string) ([]models.Client, error)
}

// Resolution is the outcome of resolving one sender address.
type Resolution struct {
	Known       bool
	DisplayName string
	Consultant  string
	JobCode     string
	Client      *models.Client
}

// Lookup resolves sender addresses to client records with a domain
// fallback, so a new contact at a known company still lands under the
// company's existing prefix and consultant.
type Lookup struct {
	registry Registry
	logger   *log.Logger
}

// NewLookup returns a Lookup over the given registry.
func NewLookup(registry Registry, logger *log.Logger) *Lookup {
	if logger == nil {
		logger = log.Default()
	}
	return &Lookup{registry: registry, logger: logger}
}

// Resolve maps one address to the best-matching client. Registry failures
// must not crash synthesis: they degrade to the unknown-client path.
func (l *Lookup) Resolve(ctx context.Context, address string) Resolution {
	address = strings.ToLower(strings.TrimSpace(address))
	client, err := l.registry.FindByEmail(ctx, address)
	if err != nil {
		l.logger.Printf("clients: exact lookup failed for %s: %v", address, err)
		return l.unknown(address)
	}
	if client == nil {
		if domain := DomainOf(address); domain != "" {
			client, err = l.registry.FindByDomain(ctx, domain)
			if err != nil {
				l.logger.Printf("clients: domain lookup failed for %s: %v", domain, err)
				return l.unknown(address)
			}
		}
	}
	if client == nil {
		return l.unknown(address)
	}
	return resolutionFor(client)
}

// ResolveBatch resolves a set of addresses in one registry round-trip,
// falling back to per-domain lookups only for the leftovers. Used during
// synthesis to avoid N queries per sync pass.
func (l *Lookup) ResolveBatch(ctx context.Context, addresses []string) map[string]Resolution {
	out := make(map[string]Resolution, len(addresses))
	distinct := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		distinct = append(distinct, a)
	}
	if len(distinct) == 0 {
		return out
	}

	matched, err := l.registry.FindByEmails(ctx, distinct)
	if err != nil {
		l.logger.Printf("clients: batch lookup failed: %v", err)
		for _, a := range distinct {
			out[a] = l.unknown(a)
		}
		return out
	}
	byEmail := make(map[string]*models.Client, len(matched))
	for i := range matched {
		byEmail[strings.ToLower(matched[i].Email)] = &matched[i]
	}
	for _, a := range distinct {
		if c, ok := byEmail[a]; ok {
			out[a] = resolutionFor(c)
			continue
		}
		out[a] = l.Resolve(ctx, a)
	}
	return out
}

func (l *Lookup) unknown(address string) Resolution {
	name := SyntheticCompanyName(address)
	return Resolution{
		Known:       false,
		DisplayName: name,
		JobCode:     DeriveJobCode(name),
	}
}

func resolutionFor(c *models.Client) Resolution {
	name := DisplayName(c)
	code := StoredJobCode(c)
	if code == "" {
		code = DeriveJobCode(name)
	}
	return Resolution{
		Known:       true,
		DisplayName: name,
		Consultant:  strings.TrimSpace(c.Consultant),
		JobCode:     code,
		Client:      c,
	}
}

// DisplayName derives the client-facing name from a registry record:
// explicit client name, else account name, else first+last, else empty.
func DisplayName(c *models.Client) string {
	if c == nil {
		return ""
	}
	if name := strings.TrimSpace(c.ClientName); name != "" {
		return name
	}
	if name := strings.TrimSpace(c.AccountName); name != "" {
		return name
	}
	full := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	return full
}

// StoredJobCode reads the explicit job-code attribute. Upstream rows are
// known to carry the key with a trailing space, so both spellings are
// tried; that quirk must not leak past this accessor.
func StoredJobCode(c *models.Client) string {
	if c == nil || c.Attributes == nil {
		return ""
	}
	for _, key := range []string{"Job Code", "Job Code "} {
		if v, ok := c.Attributes[key]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return strings.ToUpper(v)
			}
		}
	}
	return ""
}

// DeriveJobCode builds a prefix from a display name: the first three
// alphabetic characters uppercased, right-padded with X to length 3.
func DeriveJobCode(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() >= 3 {
				break
			}
		}
	}
	code := b.String()
	for len(code) < 3 {
		code += "X"
	}
	return code
}

// DomainOf extracts the lowercased domain of an address, or "".
func DomainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}

// SyntheticCompanyName capitalizes the first label of the sender's domain,
// e.g. x@totallynew.io -> "Totallynew".
func SyntheticCompanyName(address string) string {
	domain := DomainOf(address)
	if domain == "" {
		return ""
	}
	label := domain
	if dot := strings.Index(domain, "."); dot > 0 {
		label = domain[:dot]
	}
	return cases.Title(language.English).String(strings.ToLower(label))
}

// CleanSenderName normalizes a raw From display name: quote characters are
// stripped, a trailing <email> fragment is dropped, and the "(via Google
// ...)" suffix Gmail appends to forwarded senders is removed.
func CleanSenderName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, `"`, "")
	name = strings.ReplaceAll(name, "'", "")
	if lt := strings.Index(name, "<"); lt >= 0 {
		name = name[:lt]
	}
	if via := strings.Index(name, "(via Google"); via >= 0 {
		name = name[:via]
	}
	return strings.TrimSpace(name)
}
