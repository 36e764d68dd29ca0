package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// dialTimeout bounds connection setup to the IMAP server.
const dialTimeout = 30 * time.Second

// IMAPConfig holds IMAP connection settings.
type IMAPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool

	// Folder is the mailbox searched for login mail, INBOX by default.
	Folder string
}

// IMAPClient wraps go-imap v2 for searching and fetching login mail.
// Each call opens its own connection and logs out when done.
type IMAPClient struct {
	cfg IMAPConfig
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(cfg IMAPConfig) *IMAPClient {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &IMAPClient{cfg: cfg}
}

// connect establishes a connection to the IMAP server, authenticates and
// selects the configured folder read-only. The connection is closed if ctx
// is cancelled. The caller must call the returned release func.
func (c *IMAPClient) connect(
	ctx context.Context,
) (*imapclient.Client, func(), error) {
	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)

	var client *imapclient.Client
	if c.cfg.TLS {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: dialTimeout},
			Config:    &tls.Config{ServerName: c.cfg.Host},
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		client = imapclient.New(conn, nil)
	} else {
		var err error
		client, err = imapclient.DialStartTLS(addr, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	release := func() {
		stop()
		_ = client.Logout().Wait()
		_ = client.Close()
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("IMAP login for %s: %w", c.cfg.Username, err)
	}

	selectOpts := &imap.SelectOptions{ReadOnly: true}
	if _, err := client.Select(c.cfg.Folder, selectOpts).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("selecting %s: %w", c.cfg.Folder, err)
	}

	return client, release, nil
}

// Search returns the UIDs of messages matching criteria, in server order.
func (c *IMAPClient) Search(
	ctx context.Context,
	criteria Criteria,
) ([]uint32, error) {
	client, release, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	searchCriteria := &imap.SearchCriteria{}
	if criteria.From != "" {
		searchCriteria.Header = append(searchCriteria.Header,
			imap.SearchCriteriaHeaderField{Key: "From", Value: criteria.From},
		)
	}
	if criteria.Subject != "" {
		searchCriteria.Header = append(searchCriteria.Header,
			imap.SearchCriteriaHeaderField{Key: "Subject", Value: criteria.Subject},
		)
	}
	if criteria.AfterUID > 0 {
		var uids imap.UIDSet
		uids.AddRange(imap.UID(criteria.AfterUID+1), 0)
		searchCriteria.UID = []imap.UIDSet{uids}
	}

	searchData, err := client.UIDSearch(searchCriteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	found := searchData.AllUIDs()
	uids := make([]uint32, 0, len(found))
	for _, uid := range found {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

// FetchRaw returns the full RFC 5322 bytes of the message with uid.
func (c *IMAPClient) FetchRaw(
	ctx context.Context,
	uid uint32,
) ([]byte, error) {
	client, release, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	uidSet := imap.UIDSetNum(imap.UID(uid))

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body", uid)
	}

	if err := fetchCmd.Close(); err != nil {
		return raw, fmt.Errorf("closing fetch: %w", err)
	}

	return raw, nil
}
