// Package mbox splits a raw monthly archive segment into individual
// messages. Parsing is lazy and tolerant: malformed entries are skipped
// and counted instead of aborting the segment.
package mbox

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Message is one mailing-list message in archive order. Seq is the
// position of the raw entry within the segment, counting skipped entries,
// so it stays stable across re-parses of the same (append-only) archive.
type Message struct {
	Seq       int
	ID        string
	ThreadID  string
	Sender    string
	Subject   string
	Timestamp time.Time
	Body      string
}

// Scanner walks a segment message by message, bufio.Scanner style. A
// fresh Scanner over the same raw text restarts the sequence.
type Scanner struct {
	reader  *bufio.Reader
	msg     Message
	seq     int
	skipped int
	pending string
	done    bool
}

// NewScanner returns a Scanner over one raw mbox segment.
func NewScanner(raw string) *Scanner {
	return &Scanner{reader: bufio.NewReader(strings.NewReader(raw)), seq: -1}
}

// Next advances to the next well-formed message. It returns false when
// the segment is exhausted.
func (s *Scanner) Next() bool {
	for !s.done {
		entry, ok := s.nextEntry()
		if !ok {
			break
		}
		s.seq++
		msg, err := parseEntry(entry)
		if err != nil {
			s.skipped++
			continue
		}
		msg.Seq = s.seq
		if msg.ID == "" {
			// Some archive entries lack a Message-Id header; the
			// position within the segment still identifies them.
			msg.ID = strconv.Itoa(s.seq)
		}
		s.msg = msg
		return true
	}
	return false
}

// Message returns the message produced by the last successful Next.
func (s *Scanner) Message() Message { return s.msg }

// Skipped returns how many malformed entries were passed over so far.
func (s *Scanner) Skipped() int { return s.skipped }

// nextEntry accumulates lines until the next "From " separator.
func (s *Scanner) nextEntry() (string, bool) {
	var b strings.Builder
	b.WriteString(s.pending)
	s.pending = ""

	started := b.Len() > 0
	for {
		line, err := s.reader.ReadString('\n')
		if strings.HasPrefix(line, "From ") {
			if started {
				s.pending = line
				return b.String(), true
			}
			started = true
			b.WriteString(line)
			continue
		}
		if started {
			b.WriteString(line)
		}
		if err == io.EOF {
			s.done = true
			if started && b.Len() > 0 {
				return b.String(), true
			}
			return "", false
		}
		if err != nil {
			s.done = true
			return "", false
		}
	}
}

func parseEntry(entry string) (Message, error) {
	// Drop the mbox "From " envelope line; net/mail wants headers first.
	if idx := strings.Index(entry, "\n"); idx >= 0 && strings.HasPrefix(entry, "From ") {
		entry = entry[idx+1:]
	}

	parsed, err := mail.ReadMessage(strings.NewReader(entry))
	if err != nil {
		return Message{}, fmt.Errorf("reading headers: %w", err)
	}

	subject := decodeHeader(parsed.Header.Get("Subject"))
	if subject == "" {
		return Message{}, fmt.Errorf("missing subject")
	}

	ts, err := parseTimestamp(parsed.Header.Get("Date"))
	if err != nil {
		return Message{}, err
	}

	body, err := extractBody(parsed)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:        strings.Trim(parsed.Header.Get("Message-Id"), "<>"),
		ThreadID:  NormalizeThread(subject),
		Sender:    decodeHeader(parsed.Header.Get("From")),
		Subject:   subject,
		Timestamp: ts,
		Body:      body,
	}, nil
}

// The archive serves dates in a handful of variants; the "(MST)" suffixed
// form is common enough to try explicitly before giving up.
var archiveDateFormats = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if ts, err := mail.ParseDate(raw); err == nil {
		return ts, nil
	}
	for _, format := range archiveDateFormats {
		if ts, err := time.Parse(format, raw); err == nil {
			return ts, nil
		}
	}
	// Last resort: strip a trailing zone comment and retry.
	if trimmed, _, found := strings.Cut(raw, " ("); found {
		if ts, err := mail.ParseDate(trimmed); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

func decodeHeader(raw string) string {
	decoder := mime.WordDecoder{}
	decoded, err := decoder.DecodeHeader(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(decoded)
}

// extractBody walks the MIME structure and joins the usable text parts.
// HTML copies of the main message and PGP signature blocks are dropped,
// mirroring what the archive actually contains.
func extractBody(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")
	encoding := msg.Header.Get("Content-Transfer-Encoding")

	payloads, err := collectParts(msg.Body, contentType, encoding, 0)
	if err != nil {
		return "", err
	}

	// The same text sometimes appears in more than one part; keep the
	// first occurrence of each distinct payload.
	seen := make(map[string]struct{}, len(payloads))
	var kept []string
	for _, p := range payloads {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		kept = append(kept, p)
	}
	return strings.Join(kept, "\n"), nil
}

const maxPartDepth = 8

func collectParts(body io.Reader, contentType, encoding string, depth int) ([]string, error) {
	if depth > maxPartDepth {
		return nil, nil
	}

	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		parsed, p, err := mime.ParseMediaType(contentType)
		if err == nil {
			mediaType = parsed
			params = p
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart body without boundary")
		}
		reader := multipart.NewReader(body, boundary)
		var payloads []string
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				return payloads, nil
			}
			if err != nil {
				// Truncated multipart entries keep whatever parts
				// decoded cleanly before the damage.
				return payloads, nil
			}
			nested, err := collectParts(part,
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"),
				depth+1)
			if err == nil {
				payloads = append(payloads, nested...)
			}
		}
	}

	if mediaType != "text/plain" && !strings.HasPrefix(mediaType, "message/") {
		return nil, nil
	}

	decoded := decodeTransfer(body, encoding)
	text, err := io.ReadAll(decoded)
	if err != nil {
		return nil, fmt.Errorf("reading part: %w", err)
	}

	payload := string(text)
	if !usablePayload(payload) {
		return nil, nil
	}
	return []string{payload}, nil
}

func decodeTransfer(body io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	default:
		return body
	}
}

// usablePayload filters out the parts the original archive data is known
// to pollute messages with: full HTML copies and PGP key material.
func usablePayload(payload string) bool {
	if strings.Contains(payload, "<html>") || strings.Contains(payload, "</html>") ||
		strings.Contains(payload, "<div>") || strings.Contains(payload, "</div>") {
		return false
	}
	if strings.Contains(payload, "PGP SIGNATURE") {
		return false
	}
	// A blob with no spaces is almost certainly a key or attachment.
	if !strings.Contains(strings.TrimSpace(payload), " ") {
		return false
	}
	return true
}

var (
	replyPrefix = regexp.MustCompile(`(?i)^(re|fw|fwd)\s*:\s*`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// NormalizeThread derives a thread identifier from a subject line. The
// archive has no reliable threading headers, so replies are grouped by
// subject with reply/forward prefixes stripped, lowercased, and whitespace
// collapsed. Bracketed tags like [DISCUSS] and [VOTE] are kept because
// they start distinct threads for the same proposal.
//
// This rule is persisted state: distinct_thread_count in the mention
// cache depends on it, so it must stay stable across runs.
func NormalizeThread(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = strings.ToLower(s)
	return spaceRuns.ReplaceAllString(s, " ")
}
