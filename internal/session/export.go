package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExportFormat selects a serialization for [Manager.Export].
type ExportFormat string

const (
	// FormatStructured is the JSON form; the only format [Import] accepts.
	FormatStructured ExportFormat = "structured"

	// FormatPlaintext is "role: text" lines.
	FormatPlaintext ExportFormat = "plaintext"

	// FormatMarkedUp is a Markdown transcript with timestamps.
	FormatMarkedUp ExportFormat = "marked-up"
)

// ParseExportFormat validates a format string from a request.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatStructured, FormatPlaintext, FormatMarkedUp:
		return ExportFormat(s), nil
	case "":
		return FormatStructured, nil
	}
	return "", fmt.Errorf("session: unknown export format %q; valid values: structured, plaintext, marked-up", s)
}

// Export serializes the session in the requested format.
func (m *Manager) Export(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPlaintext:
		var b strings.Builder
		for _, msg := range s.Messages {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Text)
		}
		return []byte(b.String()), nil

	case FormatMarkedUp:
		var b strings.Builder
		fmt.Fprintf(&b, "# Session %s\n\n", s.ID)
		for _, msg := range s.Messages {
			fmt.Fprintf(&b, "**%s** (%s): %s\n\n",
				msg.Role, msg.Timestamp.Format(time.RFC3339), msg.Text)
		}
		return []byte(b.String()), nil

	default:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("session: export %q: %w", id, err)
		}
		return data, nil
	}
}

// Import restores a structured export into the manager, replacing any
// session with the same id.
func (m *Manager) Import(ctx context.Context, data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: import: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("session: import: missing id")
	}

	m.mu.Lock()
	m.active[s.ID] = &tracked{s: &s}
	m.mu.Unlock()

	settings, _ := m.cfg.ConversationSettings(ctx)
	m.persist(ctx, &s, settings)
	return s.clone(), nil
}
