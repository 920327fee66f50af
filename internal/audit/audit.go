// Package audit provides the append-only, hash-chained activity trail
// attached to every pipeline run.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Entry is one timestamped, hashed audit record.
type Entry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Hash   string    `json:"hash"`
}

// String renders the entry in the log line format used by the original
// governance trail.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s: %s | Hash: %s", e.At.Format(time.RFC3339Nano), e.Actor, e.Action, e.Hash)
}

// Trail is an ordered sequence of entries. Append-only; entries are never
// rewritten.
type Trail []Entry

// Append records a new entry for actor performing action. The hash covers
// the rendered record plus the previous entry's hash, so any rewrite of an
// earlier entry is detectable.
func (t *Trail) Append(actor, action string) Entry {
	prev := ""
	if n := len(*t); n > 0 {
		prev = (*t)[n-1].Hash
	}
	at := time.Now().UTC()
	raw := fmt.Sprintf("[%s] %s: %s | %s", at.Format(time.RFC3339Nano), actor, action, prev)
	sum := sha256.Sum256([]byte(raw))

	e := Entry{
		At:     at,
		Actor:  actor,
		Action: action,
		Hash:   hex.EncodeToString(sum[:]),
	}
	*t = append(*t, e)
	return e
}

// Strings renders every entry, oldest first.
func (t Trail) Strings() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.String()
	}
	return out
}

// Verify walks the trail recomputing each hash link. It returns false as
// soon as an entry does not match its recorded hash.
func (t Trail) Verify() bool {
	prev := ""
	for _, e := range t {
		raw := fmt.Sprintf("[%s] %s: %s | %s", e.At.Format(time.RFC3339Nano), e.Actor, e.Action, prev)
		sum := sha256.Sum256([]byte(raw))
		if hex.EncodeToString(sum[:]) != e.Hash {
			return false
		}
		prev = e.Hash
	}
	return true
}
