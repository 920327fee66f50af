package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Channel is an outbound delivery channel. The router only ever produces one
// of the three declared values; anything else coerces to ChannelEmail.
type Channel string

const (
	ChannelLinkedIn Channel = "linkedin"
	ChannelEmail    Channel = "email"
	ChannelCall     Channel = "call"
)

// Urgency is the caller-declared priority of an outreach request.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

var titleCaser = cases.Title(language.English)

// ParseChannel normalizes a free-form channel string, accepting both the
// plain channel names and the legacy "route_to_*" route labels produced by
// LLM routing prompts. The second return is false when the input was not a
// recognized channel and the email default was substituted.
func ParseChannel(s string) (Channel, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.Trim(v, `'"`)
	v = strings.TrimPrefix(v, "route_to_")
	switch Channel(v) {
	case ChannelLinkedIn, ChannelEmail, ChannelCall:
		return Channel(v), true
	}
	return ChannelEmail, false
}

// Valid reports whether c is one of the three declared channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelLinkedIn, ChannelEmail, ChannelCall:
		return true
	}
	return false
}

// Display returns the channel name in title case for reports and listings.
func (c Channel) Display() string {
	if c == ChannelLinkedIn {
		return "LinkedIn"
	}
	return titleCaser.String(string(c))
}

// UnmarshalJSON coerces unknown channel values to ChannelEmail so that
// LLM-sourced profiles never carry a value outside the closed set.
func (c *Channel) UnmarshalJSON(data []byte) error {
	v := strings.Trim(string(data), `"`)
	parsed, _ := ParseChannel(v)
	*c = parsed
	return nil
}

// ParseUrgency normalizes a free-form urgency string, defaulting to medium.
func ParseUrgency(s string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case UrgencyLow:
		return UrgencyLow
	case UrgencyHigh:
		return UrgencyHigh
	default:
		return UrgencyMedium
	}
}
