package mailbox

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"context"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"golang.org/x/sync/errgroup"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPPoller implements Poller over IMAPS using one long-lived protocol
// session per poll, torn down at the end or on timeout.
type IMAPPoller struct {
	window      time.Duration
	budget      time.Duration
	dialTimeout time.Duration
	parallelism int
	now         func() time.Time
	logger      *log.Logger
	parser      *Parser
	newClient   func(Account) (imapClient, error)
}

// IMAPPollerOption customizes poller behavior.
type IMAPPollerOption func(*IMAPPoller)

// NewIMAPPoller returns a poller with the default 30-day window and 60s
// poll budget.
func NewIMAPPoller(opts ...IMAPPollerOption) *IMAPPoller {
	p := &IMAPPoller{
		window:      defaultWindow,
		budget:      defaultPollBudget,
		dialTimeout: defaultDialTimeout,
		parallelism: 4,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
		parser:      NewParser(),
	}
	p.newClient = p.defaultClientFactory
	for _, opt := range opts {
		opt(p)
	}
	if p.newClient == nil {
		p.newClient = p.defaultClientFactory
	}
	return p
}

// WithWindow overrides the recency window bounding which starred mail is
// considered at all.
func WithWindow(window time.Duration) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if window > 0 {
			p.window = window
		}
	}
}

// WithPollBudget overrides the wall-clock budget for a poll.
func WithPollBudget(budget time.Duration) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if budget > 0 {
			p.budget = budget
		}
	}
}

// WithDialTimeout overrides the socket dial timeout.
func WithDialTimeout(timeout time.Duration) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithLogger overrides the logger used for poller diagnostics.
func WithLogger(logger *log.Logger) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if logger != nil {
			p.logger = logger
			p.parser.logger = logger
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if now != nil {
			p.now = now
		}
	}
}

func withClientFactory(factory func(Account) (imapClient, error)) IMAPPollerOption {
	return func(p *IMAPPoller) {
		p.newClient = factory
	}
}

// Poll implements Poller. Partial progress beats total failure: once the
// mailbox is open, per-message errors are logged and skipped, and hitting
// the budget returns what has been parsed so far.
func (p *IMAPPoller) Poll(ctx context.Context, account Account) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	client, err := p.open(account)
	if err != nil {
		return nil, err
	}
	defer p.safeClose(client)

	since := p.now().Add(-p.window)
	criteria := &imap.SearchCriteria{
		Flag:  []imap.Flag{imap.FlagFlagged},
		Since: since,
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bufs, err := client.Fetch(imap.UIDSetNum(uids...), metadataFetchOptions()).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	var (
		mu  sync.Mutex
		out []*models.Message
	)
	g := new(errgroup.Group)
	g.SetLimit(p.parallelism)
	for i, buf := range bufs {
		if ctx.Err() != nil {
			p.logger.Printf("mailbox: poll budget exhausted after %d/%d messages", i, len(bufs))
			break
		}
		// Text parts are fetched on the session loop; only the parse
		// itself fans out.
		texts, fetchErr := p.fetchTextParts(client, buf)
		if fetchErr != nil {
			p.logger.Printf("mailbox: fetch body for uid %d: %v", buf.UID, fetchErr)
			continue
		}
		buf := buf
		g.Go(func() error {
			msg := p.parser.FromMetadata(buf, texts)
			if msg == nil {
				// No usable Message-ID: cannot be deduplicated later, so
				// it must not enter the store.
				return nil
			}
			mu.Lock()
			out = append(out, msg)
			mu.Unlock()
			return nil
		})
	}
	// Completion is not declared until all in-flight parses finish.
	_ = g.Wait()

	if ctx.Err() == nil {
		if err := client.Logout().Wait(); err != nil {
			p.logger.Printf("mailbox: logout: %v", err)
		}
	}
	return out, nil
}

// FetchFull implements Poller. It pulls the entire RFC822 payload for one
// UID, attachments included.
func (p *IMAPPoller) FetchFull(ctx context.Context, account Account, uid uint32) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := p.open(account)
	if err != nil {
		return nil, err
	}
	defer p.safeClose(client)

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	bufs, err := client.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch uid %d: %w", uid, err)
	}
	if len(bufs) == 0 {
		return nil, fmt.Errorf("mailbox: uid %d not found", uid)
	}
	raw := bufs[0].FindBodySection(&imap.FetchItemBodySection{})
	if raw == nil {
		return nil, fmt.Errorf("mailbox: uid %d returned no body", uid)
	}
	msg, err := p.parser.FromRaw(raw)
	if err != nil {
		return nil, err
	}
	msg.UID = uint32(bufs[0].UID)
	if msg.Date.IsZero() {
		msg.Date = bufs[0].InternalDate
	}
	return msg, nil
}

// open dials, authenticates, and selects the folder read-write so flags
// can be observed. Failures here mean the mailbox was never usably open
// and surface as a distinct error, never as a partial list.
func (p *IMAPPoller) open(account Account) (imapClient, error) {
	if account.Address == "" {
		return nil, errors.New("mailbox: account missing address")
	}
	if account.AppPassword == "" {
		return nil, errors.New("mailbox: account missing app password")
	}
	client, err := p.newClient(account)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	if err := client.Login(account.Address, account.AppPassword).Wait(); err != nil {
		p.safeClose(client)
		return nil, fmt.Errorf("imap auth: %w", err)
	}
	folder := account.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		p.safeClose(client)
		return nil, fmt.Errorf("imap select %s: %w", folder, err)
	}
	return client, nil
}

// fetchTextParts retrieves the transfer-encoded text/plain and text/html
// leaves identified by the body structure walk. Attachment parts are never
// requested here.
func (p *IMAPPoller) fetchTextParts(client imapClient, buf *imapclient.FetchMessageBuffer) (map[string][]byte, error) {
	layout := walkStructure(buf.BodyStructure)
	sections := make([]*imap.FetchItemBodySection, 0, 2)
	if layout.textPlain != nil {
		sections = append(sections, &imap.FetchItemBodySection{Part: layout.textPlain.path, Peek: true})
	}
	if layout.textHTML != nil {
		sections = append(sections, &imap.FetchItemBodySection{Part: layout.textHTML.path, Peek: true})
	}
	if len(sections) == 0 {
		return nil, nil
	}
	opts := &imap.FetchOptions{UID: true, BodySection: sections}
	bufs, err := client.Fetch(imap.UIDSetNum(buf.UID), opts).Collect()
	if err != nil {
		return nil, err
	}
	if len(bufs) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(sections))
	for _, section := range bufs[0].BodySection {
		if section.Section == nil {
			continue
		}
		switch {
		case layout.textPlain != nil && samePath(section.Section.Part, layout.textPlain.path):
			out["text/plain"] = section.Bytes
		case layout.textHTML != nil && samePath(section.Section.Part, layout.textHTML.path):
			out["text/html"] = section.Bytes
		}
	}
	return out, nil
}

func samePath(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func metadataFetchOptions() *imap.FetchOptions {
	return &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		Envelope:      true,
		InternalDate:  true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierHeader, Peek: true},
		},
	}
}

func (p *IMAPPoller) safeClose(client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil && p.logger != nil {
		p.logger.Printf("mailbox: close: %v", err)
	}
}

func (p *IMAPPoller) defaultClientFactory(account Account) (imapClient, error) {
	host := account.Host
	if host == "" {
		return nil, errors.New("mailbox: account missing host")
	}
	port := account.Port
	if port == 0 {
		port = 993
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: p.dialTimeout}}
	client, err := imapclient.DialTLS(fmt.Sprintf("%s:%d", host, port), opts)
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
