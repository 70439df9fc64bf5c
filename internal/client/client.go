// Package client is the IMAP mail backend: a go-imap session with reconnect
// logic, plus listing, MIME parsing and SMTP sending on top of it.
package client

import (
	"cmp"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/greeddj/mailbridge-go/internal/provider"
)

const (
	// mailboxChanBuffer is the buffer size for mailbox listing channels.
	mailboxChanBuffer = 10
	// messageChanBuffer is the buffer size for message fetching channels.
	messageChanBuffer = 10
	// initialBackoff is the initial delay before reconnect attempts.
	initialBackoff = 2 * time.Second
	// reconnectInterval is the minimum time between reconnection attempts.
	reconnectInterval = 10 * time.Second
	// maxReconnectAttempts is the maximum number of reconnection retries.
	maxReconnectAttempts = 5
	// progressUpdateInterval defines how often to update progress during batch operations.
	progressUpdateInterval = 10
	// fetchBatch is how many UIDs one lazy listing step fetches.
	fetchBatch = 50
)

// progressReporter surfaces progress updates to the UI layer.
type progressReporter interface {
	Update(message string)
	IsQuiet() bool
}

// Options configures a Client.
type Options struct {
	Addr      string      // IMAP server address, host:port.
	Username  string      // IMAP username.
	Password  string      // IMAP password.
	TLS       bool        // Dial with implicit TLS.
	TLSConfig *tls.Config // TLS configuration.
	Label     string      // Prefix for progress messages.

	SentFolder    string // Where sent mail is appended. Resolved by \Sent when empty.
	ArchiveFolder string // Archive target. Resolved by \Archive when empty.
	TrashFolder   string // Delete target. Resolved by \Trash when empty.
	PreviewBytes  int    // Partial body bytes fetched for previews; 0 disables previews.

	From   string // Address outgoing mail is sent from.
	Sender Sender // Outgoing transport; replies, forwards and creates fail without one.

	Now func() time.Time
	Log *slog.Logger
}

// Client embeds an IMAP client with retry-friendly helpers.
type Client struct {
	*client.Client

	opts   Options
	dialFn func(addr string) (net.Conn, error) // Connection dialer function.

	mu sync.Mutex // Protects reconnection state.

	backoff       time.Duration // Current reconnection backoff duration.
	lastReconnect time.Time     // Timestamp of last reconnection attempt.
	reconnectDur  time.Duration // Minimum duration between reconnects.

	progress progressReporter // Progress update interface.
	log      *slog.Logger
}

var _ provider.MailBackend = (*Client)(nil)

// New establishes a connection and logs into the IMAP server.
func New(opts Options) (*Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("imap server address is required")
	}
	opts.Label = cmp.Or(opts.Label, opts.Username, opts.Addr)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		opts:         opts,
		backoff:      initialBackoff,
		reconnectDur: reconnectInterval,
		log:          opts.Log.With("component", "imap", "label", opts.Label),
	}

	c.dialFn = func(addr string) (net.Conn, error) {
		if opts.TLS {
			return tls.Dial("tcp", addr, opts.TLSConfig)
		}
		return net.Dial("tcp", addr)
	}

	if err := c.connectAndLogin(); err != nil {
		return nil, fmt.Errorf("[%s] %w", c.opts.Label, err)
	}

	return c, nil
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Logout()
}

// SetProgress wires a progress reporter for spinner/log updates.
func (c *Client) SetProgress(p progressReporter) {
	c.progress = p
}

// UpdateProgress sends a message to the configured progress reporter if available.
func (c *Client) UpdateProgress(message string) {
	if c.progress != nil && !c.progress.IsQuiet() {
		c.progress.Update(message)
	}
}

// connectAndLogin establishes a new IMAP connection and authenticates the user.
func (c *Client) connectAndLogin() error {
	conn, err := c.dialFn(c.opts.Addr)
	if err != nil {
		return err
	}

	cl, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := cl.Login(c.opts.Username, c.opts.Password); err != nil {
		_ = cl.Logout()
		return err
	}

	c.Client = cl
	return nil
}

// Reconnect tears down and rebuilds the underlying IMAP session with backoff.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	sinceLast := now.Sub(c.lastReconnect)
	if sinceLast < c.reconnectDur {
		wait := c.reconnectDur - sinceLast
		c.UpdateProgress(fmt.Sprintf("[%s] 🔄 Reconnecting in %s...", c.opts.Label, wait))
		time.Sleep(wait)
	}

	if c.Client != nil {
		_ = c.Logout()
	}

	var err error
	delay := c.backoff

	for i := 1; i <= maxReconnectAttempts; i++ {
		c.UpdateProgress(fmt.Sprintf("[%s] 🔄 Reconnect attempt %d...", c.opts.Label, i))
		err = c.connectAndLogin()
		if err == nil {
			c.UpdateProgress(fmt.Sprintf("[%s] 🔄 Reconnected successfully", c.opts.Label))
			c.log.Info("reconnected", "attempt", i)
			c.lastReconnect = time.Now()
			c.backoff = initialBackoff
			return nil
		}

		c.log.Warn("reconnect failed", "attempt", i, "retry_in", delay, "error", err)
		c.UpdateProgress(fmt.Sprintf("[%s] 🔄 Failed: %v, retrying in %s", c.opts.Label, err, delay))
		time.Sleep(delay)
		delay *= 2
	}

	c.lastReconnect = time.Now()
	return fmt.Errorf("[%s] failed to reconnect after retries: %w", c.opts.Label, err)
}

// safeCall wraps an IMAP operation with automatic reconnection on connection errors.
// A reconnect drops the selected mailbox, so fn must select what it needs itself.
func (c *Client) safeCall(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	if isConnError(err) {
		if rerr := c.Reconnect(); rerr != nil {
			return rerr
		}
		return fn()
	}

	return err
}

// isConnError determines if an error is connection-related and warrants a reconnect attempt.
func isConnError(err error) bool {
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr)
}

// ensureSelected selects mailbox unless it is already selected with the wanted mode.
func (c *Client) ensureSelected(mailbox string, readOnly bool) (*imap.MailboxStatus, error) {
	if cur := c.Mailbox(); cur != nil && cur.Name == mailbox && (readOnly || !cur.ReadOnly) {
		return cur, nil
	}
	return c.Select(mailbox, readOnly)
}
