// Package mention finds proposal references in messages and folds them
// into per-proposal statistics. Everything here is pure: no I/O, no
// shared state, so extraction can run over segments in any order.
package mention

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/kipwatch/internal/mbox"
)

// Pattern recognizes proposal identifiers as whole tokens. The word
// boundaries matter: KIP-212 must never count as a mention of KIP-12, and
// SKIP-10 is not a proposal at all.
var Pattern = regexp.MustCompile(`(?i)\bKIP-(\d+)\b`)

// Event is one (message, proposal) mention pair, consumed immediately by
// the Accumulator.
type Event struct {
	ProposalID int
	MessageID  string
	ThreadID   string
	Timestamp  time.Time
}

// Kind classifies what a message is doing with a proposal, derived from
// the subject tags the Kafka lists use.
type Kind string

const (
	KindDiscuss Kind = "discuss"
	KindVote    Kind = "vote"
	KindBody    Kind = "body"
)

// Classify reports the mention kind of a message from its subject.
func Classify(subject string) Kind {
	upper := strings.ToUpper(subject)
	switch {
	case strings.Contains(upper, "VOTE"):
		return KindVote
	case strings.Contains(upper, "DISCUSS"):
		return KindDiscuss
	default:
		return KindBody
	}
}

// Extract returns the distinct proposal ids referenced in the message's
// subject or body, sorted ascending. Duplicates within one message are a
// single mention. Ids are recorded on syntactic match alone; whether the
// proposal exists in the wiki is resolved downstream of the cache.
func Extract(msg mbox.Message) []int {
	ids := make(map[int]struct{})
	for _, text := range []string{msg.Subject, msg.Body} {
		for _, match := range Pattern.FindAllStringSubmatch(text, -1) {
			id, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			ids[id] = struct{}{}
		}
	}

	out := make([]int, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Events expands a message into its mention events.
func Events(msg mbox.Message) []Event {
	ids := Extract(msg)
	if len(ids) == 0 {
		return nil
	}
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, Event{
			ProposalID: id,
			MessageID:  msg.ID,
			ThreadID:   msg.ThreadID,
			Timestamp:  msg.Timestamp,
		})
	}
	return events
}
