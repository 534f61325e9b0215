package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaystack/sms-mcp/internal/twilio"
)

// ValidationError rejects a tool call before any store or transport work.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func boolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// intArg tolerates JSON numbers arriving as float64.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func stringSliceArg(args map[string]any, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, true
}

func objectArg(args map[string]any, key string) (map[string]any, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func requirePhone(args map[string]any, field string) (string, error) {
	s, ok := stringArg(args, field)
	if !ok || s == "" {
		return "", invalid(field, "required E.164 phone number")
	}
	if !twilio.ValidPhoneNumber(s) {
		return "", invalid(field, fmt.Sprintf("%q is not E.164", s))
	}
	return s, nil
}

func optionalPhone(args map[string]any, field string) (string, error) {
	s, ok := stringArg(args, field)
	if !ok || s == "" {
		return "", nil
	}
	if !twilio.ValidPhoneNumber(s) {
		return "", invalid(field, fmt.Sprintf("%q is not E.164", s))
	}
	return s, nil
}

func optionalUUID(args map[string]any, field string) (string, error) {
	s, ok := stringArg(args, field)
	if !ok || s == "" {
		return "", nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", invalid(field, fmt.Sprintf("%q is not a UUID", s))
	}
	return s, nil
}

func requireUUID(args map[string]any, field string) (string, error) {
	s, ok := stringArg(args, field)
	if !ok || s == "" {
		return "", invalid(field, "required UUID")
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", invalid(field, fmt.Sprintf("%q is not a UUID", s))
	}
	return s, nil
}

func optionalTime(args map[string]any, field string) (time.Time, error) {
	s, ok := stringArg(args, field)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, invalid(field, fmt.Sprintf("%q is not an ISO datetime", s))
	}
	return ts, nil
}

func limitArg(args map[string]any, field string, def int, max int) (int, error) {
	v, ok := intArg(args, field)
	if !ok {
		if _, present := args[field]; present {
			return 0, invalid(field, "must be an integer")
		}
		return def, nil
	}
	if v < 1 || v > max {
		return 0, invalid(field, fmt.Sprintf("must be in [1,%d]", max))
	}
	return v, nil
}
