// Package tools – reminder.go implements the set_reminder tool. It persists
// a reminder row with a resolved deadline; delivery happens later in the
// reminder scheduler. Deadlines arrive either as an ISO 8601 timestamp or
// as an ISO 8601 duration relative to now.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/songmeo/ButlerDuck/pkg/butler/llm"
)

// pastGrace is how far in the past a deadline may lie before it is rejected.
// Clock skew between the user's phone and the server makes a strict check
// reject legitimate "now" reminders.
const pastGrace = 60 * time.Second

// ReminderStore is the slice of the chat store the tool needs.
type ReminderStore interface {
	CreateReminder(ctx context.Context, chatID int64, action string, deadline time.Time) (int64, error)
}

// NewSetReminder returns the definition and handler for the set_reminder tool.
func NewSetReminder(st ReminderStore) (llm.ToolDefinition, Handler) {
	d := MakeDefinition("set_reminder", "schedule a reminder for an action at a deadline", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chat_id": map[string]any{
				"type":        "integer",
				"description": "the chat to remind",
			},
			"action": map[string]any{
				"type":        "string",
				"description": "what to remind about",
			},
			"deadline": map[string]any{
				"type":        "string",
				"description": "ISO 8601 timestamp of the deadline",
			},
			"duration": map[string]any{
				"type":        "string",
				"description": "ISO 8601 duration from now, e.g. PT10M",
			},
		},
		"required":             []string{"chat_id", "action"},
		"additionalProperties": false,
	})
	h := func(ctx context.Context, args map[string]any) (string, error) {
		return setReminder(ctx, st, args, time.Now())
	}
	return d, h
}

// setReminder resolves the deadline and persists the reminder. User-facing
// rejections ("deadline is past", missing fields) are returned as the tool
// result so the model can relay them; only storage failures are errors.
func setReminder(ctx context.Context, st ReminderStore, args map[string]any, now time.Time) (string, error) {
	chatID, ok := intArg(args, "chat_id")
	if !ok {
		return "", fmt.Errorf("chat_id is required")
	}
	action, _ := args["action"].(string)
	if action == "" {
		return "", fmt.Errorf("action is required")
	}
	deadlineArg, _ := args["deadline"].(string)
	durationArg, _ := args["duration"].(string)

	var deadline time.Time
	switch {
	case deadlineArg != "":
		var err error
		deadline, err = parseTimestamp(deadlineArg)
		if err != nil {
			return "", fmt.Errorf("invalid deadline %q: %w", deadlineArg, err)
		}
		if now.Sub(deadline) > pastGrace {
			return "Sorry deadline is past.", nil
		}
	case durationArg != "":
		d, err := ParseISODuration(durationArg)
		if err != nil {
			return "", fmt.Errorf("invalid duration %q: %w", durationArg, err)
		}
		deadline = now.Add(d)
	default:
		return "You must define deadline or duration.", nil
	}

	if _, err := st.CreateReminder(ctx, chatID, action, deadline); err != nil {
		return "", fmt.Errorf("saving reminder: %w", err)
	}
	return fmt.Sprintf("A reminder for '%s' is set on %s.", action, deadline.UTC().Format(time.RFC3339)), nil
}

// intArg coerces a JSON argument to int64. JSON numbers decode as float64.
func intArg(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// parseTimestamp accepts RFC 3339 timestamps, with or without a zone offset.
// Zoneless timestamps are treated as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("not an ISO 8601 timestamp")
}

// ParseISODuration parses an ISO 8601 duration (PnW / PnDTnHnMnS forms).
// Calendar units (years, months) are rejected: their length depends on the
// anchor date, which the tool does not track.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	if len(s) < 2 || (s[0] != 'P' && s[0] != 'p') {
		return 0, fmt.Errorf("malformed duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	readValue := false

	for len(s) > 0 {
		if s[0] == 'T' || s[0] == 't' {
			if inTime {
				return 0, fmt.Errorf("malformed duration %q", orig)
			}
			inTime = true
			s = s[1:]
			continue
		}

		i := 0
		for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("malformed duration %q", orig)
		}
		value, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("malformed duration %q", orig)
		}
		unit := s[i]
		s = s[i+1:]
		readValue = true

		var scale time.Duration
		switch {
		case !inTime && (unit == 'W' || unit == 'w'):
			scale = 7 * 24 * time.Hour
		case !inTime && (unit == 'D' || unit == 'd'):
			scale = 24 * time.Hour
		case inTime && (unit == 'H' || unit == 'h'):
			scale = time.Hour
		case inTime && (unit == 'M' || unit == 'm'):
			scale = time.Minute
		case inTime && (unit == 'S' || unit == 's'):
			scale = time.Second
		case !inTime && (unit == 'Y' || unit == 'y' || unit == 'M' || unit == 'm'):
			return 0, fmt.Errorf("calendar units not supported in %q", orig)
		default:
			return 0, fmt.Errorf("malformed duration %q", orig)
		}
		total += time.Duration(value * float64(scale))
	}

	if !readValue {
		return 0, fmt.Errorf("malformed duration %q", orig)
	}
	return total, nil
}
