// Package mailbox finds the newest login email and pulls the verification
// token out of its magic link.
package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/source"
)

// Criteria selects candidate login messages.
type Criteria struct {
	// From matches the sender header.
	From string

	// Subject optionally matches the subject header.
	Subject string

	// AfterUID excludes messages with a UID at or below this value.
	AfterUID uint32
}

// Mailbox is the mail provider capability the extractor consumes.
type Mailbox interface {
	Search(ctx context.Context, criteria Criteria) ([]uint32, error)
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)
}

// Token is a verification token and the message it came from.
type Token struct {
	Value string
	UID   uint32
}

// Extractor finds verification tokens in login mail.
type Extractor struct {
	mailbox Mailbox
	pattern *regexp.Regexp
	logger  zerolog.Logger
}

// NewExtractor compiles pattern, which must contain one capture group
// yielding the token.
func NewExtractor(
	mb Mailbox,
	pattern string,
	logger zerolog.Logger,
) (*Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling link pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("link pattern %q has no capture group", pattern)
	}
	return &Extractor{
		mailbox: mb,
		pattern: re,
		logger:  logger.With().Str("component", "mailbox").Logger(),
	}, nil
}

// LatestUID returns the highest UID matching criteria, or 0 if none match.
func (e *Extractor) LatestUID(ctx context.Context, criteria Criteria) (uint32, error) {
	uids, err := e.search(ctx, criteria)
	if err != nil {
		return 0, err
	}
	return maxUID(uids), nil
}

// FindVerificationToken fetches the newest message matching criteria and
// extracts the token from its body. It returns source.ErrNotFound when no
// message matches or the newest message has no link, and a
// source.TransportError on any mailbox fault.
func (e *Extractor) FindVerificationToken(
	ctx context.Context,
	criteria Criteria,
) (*Token, error) {
	uids, err := e.search(ctx, criteria)
	if err != nil {
		return nil, err
	}

	uid := maxUID(uids)
	if uid == 0 {
		return nil, fmt.Errorf("no login email from %q: %w", criteria.From, source.ErrNotFound)
	}

	raw, err := e.mailbox.FetchRaw(ctx, uid)
	if err != nil {
		return nil, &source.TransportError{Op: "mailbox fetch", Err: err}
	}

	body := SelectBody(raw)
	m := e.pattern.FindStringSubmatch(body)
	if m == nil || m[1] == "" {
		e.logger.Warn().Uint32("uid", uid).Msg("login email has no verification link")
		return nil, fmt.Errorf("no verification link in message %d: %w", uid, source.ErrNotFound)
	}

	e.logger.Info().Uint32("uid", uid).Msg("found verification link")
	return &Token{Value: m[1], UID: uid}, nil
}

// search runs the mailbox search and drops UIDs at or below AfterUID,
// since an IMAP "n:*" range may still return the highest existing UID.
func (e *Extractor) search(ctx context.Context, criteria Criteria) ([]uint32, error) {
	uids, err := e.mailbox.Search(ctx, criteria)
	if err != nil {
		return nil, &source.TransportError{Op: "mailbox search", Err: err}
	}

	filtered := uids[:0:0]
	for _, uid := range uids {
		if uid > criteria.AfterUID {
			filtered = append(filtered, uid)
		}
	}
	return filtered, nil
}

// maxUID picks the newest message explicitly; search results are not
// guaranteed to be ordered.
func maxUID(uids []uint32) uint32 {
	var latest uint32
	for _, uid := range uids {
		if uid > latest {
			latest = uid
		}
	}
	return latest
}

// SelectBody parses a raw RFC 5322 message with go-message and returns the
// text/html part, falling back to text/plain. Input with neither is
// returned as-is.
func SelectBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		}
	}

	switch {
	case htmlBody != "":
		return htmlBody
	case textBody != "":
		return textBody
	default:
		return string(raw)
	}
}
