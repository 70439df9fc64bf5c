package client

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// MailboxInfo describes message counts and sizes for a single folder.
type MailboxInfo struct {
	Name       string
	Attributes []string
	Messages   uint32
	Size       uint64
}

// Selectable reports whether the folder can hold messages.
func (m *MailboxInfo) Selectable() bool {
	return !slices.ContainsFunc(m.Attributes, func(a string) bool {
		return strings.EqualFold(a, imap.NoSelectAttr)
	})
}

// Collections implements provider.Lister for message folders.
func (c *Client) Collections(_ context.Context, kind model.Kind) ([]model.CollectionInfo, error) {
	if kind != model.KindMessage {
		return nil, apperr.Unsupported("the IMAP backend serves only mail, not %s", kind)
	}
	boxes, err := c.ListMailboxes(true)
	if err != nil {
		return nil, err
	}
	out := make([]model.CollectionInfo, 0, len(boxes))
	for _, b := range boxes {
		if !b.Selectable() {
			continue
		}
		out = append(out, model.CollectionInfo{Name: b.Name, Kind: model.KindMessage, Items: b.Messages, Size: b.Size})
	}
	return out, nil
}

// listMailboxes runs LIST for pattern.
func (c *Client) listMailboxes(pattern string) ([]*MailboxInfo, error) {
	var result []*MailboxInfo
	err := c.safeCall(func() error {
		result = result[:0]
		mailboxes := make(chan *imap.MailboxInfo, mailboxChanBuffer)
		done := make(chan error, 1)
		go func() {
			done <- c.List("", pattern, mailboxes)
		}()
		for m := range mailboxes {
			result = append(result, &MailboxInfo{Name: m.Name, Attributes: m.Attributes})
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] list mailboxes error: %w", c.opts.Label, err)
	}
	return result, nil
}

// ListMailboxes fetches all folders, plus message counts and sizes when withStats is set.
func (c *Client) ListMailboxes(withStats bool) ([]*MailboxInfo, error) {
	c.UpdateProgress(fmt.Sprintf("[%s] Getting mailbox list...", c.opts.Label))

	result, err := c.listMailboxes("*")
	if err != nil || !withStats {
		return result, err
	}

	c.UpdateProgress(fmt.Sprintf("[%s] Getting mailbox statistics...", c.opts.Label))
	for i, mbox := range result {
		if !mbox.Selectable() {
			continue
		}
		c.UpdateProgress(fmt.Sprintf("[%s] Analyzing folder %d/%d: %s", c.opts.Label, i+1, len(result), mbox.Name))

		status, err := c.Status(mbox.Name, []imap.StatusItem{imap.StatusMessages})
		if err != nil {
			c.log.Warn("folder status failed", "folder", mbox.Name, "error", err)
			continue
		}

		mbox.Messages = status.Messages

		if status.Messages > 0 {
			size, err := c.getFolderSize(mbox.Name)
			if err != nil {
				c.log.Warn("folder size failed", "folder", mbox.Name, "error", err)
			} else {
				mbox.Size = size
			}
		}
	}

	return result, nil
}

// getFolderSize calculates the total size of all messages in a folder.
func (c *Client) getFolderSize(folder string) (uint64, error) {
	mbox, err := c.Select(folder, true)
	if err != nil {
		return 0, err
	}

	if mbox.Messages == 0 {
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, mbox.Messages)

	messages := make(chan *imap.Message, messageChanBuffer)
	done := make(chan error, 1)

	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchRFC822Size}, messages)
	}()

	var totalSize uint64
	for msg := range messages {
		totalSize += uint64(msg.Size)
	}

	if err := <-done; err != nil {
		return 0, err
	}

	return totalSize, nil
}

// specialFolder resolves a role folder: the configured name, else the folder
// carrying the special-use attribute, else the first existing fallback, else the
// first fallback. exists reports whether the result is on the server.
func (c *Client) specialFolder(configured, attr string, fallbacks ...string) (name string, exists bool, err error) {
	boxes, err := c.listMailboxes("*")
	if err != nil {
		return "", false, err
	}
	find := func(match func(*MailboxInfo) bool) (string, bool) {
		for _, b := range boxes {
			if match(b) {
				return b.Name, true
			}
		}
		return "", false
	}
	if configured != "" {
		if n, ok := find(func(b *MailboxInfo) bool { return b.Name == configured }); ok {
			return n, true, nil
		}
		return configured, false, nil
	}
	if n, ok := find(func(b *MailboxInfo) bool {
		return slices.ContainsFunc(b.Attributes, func(a string) bool { return strings.EqualFold(a, attr) })
	}); ok {
		return n, true, nil
	}
	for _, fb := range fallbacks {
		if n, ok := find(func(b *MailboxInfo) bool { return strings.EqualFold(b.Name, fb) }); ok {
			return n, true, nil
		}
	}
	if len(fallbacks) == 0 {
		return "", false, nil
	}
	return fallbacks[0], false, nil
}

// CreateMailbox ensures the destination folder (and parents) exist on the server.
func (c *Client) CreateMailbox(name string) (bool, error) {
	if exists, err := c.mailboxExists(name); err != nil {
		return false, err
	} else if exists {
		return false, nil
	}

	delimiter, err := c.getDelimiter()
	if err != nil {
		return false, fmt.Errorf("[%s] failed to get delimiter: %w", c.opts.Label, err)
	}

	if delimiter != "" && strings.Contains(name, delimiter) {
		if err := c.createParentFolders(name, delimiter); err != nil {
			return false, err
		}
	}

	err = c.safeCall(func() error {
		return c.Create(name)
	})

	if err != nil {
		return false, fmt.Errorf("[%s] failed to create mailbox %s: %w", c.opts.Label, name, err)
	}

	c.log.Info("mailbox created", "folder", name)
	return true, nil
}

// mailboxExists checks if a mailbox with the given name exists on the server.
func (c *Client) mailboxExists(name string) (bool, error) {
	boxes, err := c.listMailboxes(name)
	if err != nil {
		return false, fmt.Errorf("[%s] failed to check mailbox existence: %w", c.opts.Label, err)
	}
	return len(boxes) > 0, nil
}

// getDelimiter retrieves the hierarchy delimiter used by the IMAP server.
func (c *Client) getDelimiter() (string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "", mailboxes)
	}()

	delimiter := "/"
	for mbox := range mailboxes {
		if mbox.Delimiter != "" {
			delimiter = mbox.Delimiter
		}
	}

	if err := <-done; err != nil {
		return "", fmt.Errorf("[%s] failed to get delimiter: %w", c.opts.Label, err)
	}

	return delimiter, nil
}

// createParentFolders recursively creates all parent folders in a hierarchy.
func (c *Client) createParentFolders(name, delimiter string) error {
	parts := strings.Split(name, delimiter)

	for i := 1; i < len(parts); i++ {
		parentPath := strings.Join(parts[:i], delimiter)

		exists, err := c.mailboxExists(parentPath)
		if err != nil {
			return fmt.Errorf("[%s] failed to check parent folder %s: %w", c.opts.Label, parentPath, err)
		}

		if !exists {
			c.UpdateProgress(fmt.Sprintf("[%s] Creating parent folder: %s", c.opts.Label, parentPath))
			err = c.safeCall(func() error {
				return c.Create(parentPath)
			})
			if err != nil {
				return fmt.Errorf("[%s] failed to create parent folder %s: %w", c.opts.Label, parentPath, err)
			}
		}
	}

	return nil
}
