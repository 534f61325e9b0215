package twilio

import (
	"fmt"
	"regexp"
	"strings"
)

var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidPhoneNumber reports whether s is a well-formed E.164 phone number.
func ValidPhoneNumber(s string) bool {
	return e164Re.MatchString(strings.TrimSpace(s))
}

// SIDKind distinguishes the two message resource families by sid prefix.
type SIDKind string

const (
	SIDKindSMS SIDKind = "SM"
	SIDKindMMS SIDKind = "MM"
)

// MessageSID is a validated provider message identifier.
type MessageSID struct {
	Kind  SIDKind
	Value string
}

// ParseMessageSID validates a provider message sid: a known two-letter prefix
// followed by a non-empty suffix. Both families go through the same rule.
func ParseMessageSID(raw string) (MessageSID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) <= 2 {
		return MessageSID{}, fmt.Errorf("invalid message sid %q", raw)
	}
	switch prefix := SIDKind(raw[:2]); prefix {
	case SIDKindSMS, SIDKindMMS:
		return MessageSID{Kind: prefix, Value: raw}, nil
	default:
		return MessageSID{}, fmt.Errorf("invalid message sid %q (must start with SM or MM)", raw)
	}
}

func (s MessageSID) String() string { return s.Value }
