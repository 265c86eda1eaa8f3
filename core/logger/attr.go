package logger

import (
	"log/slog"
)

// Error creates an attribute for a single error under the key "error".
// Returns an empty Attr for nil errors, enabling safe usage without nil
// checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// ConnID creates an attribute for connection identifiers.
func ConnID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("conn_id", id)
}

// UserID creates an attribute for user identifiers.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// Room creates an attribute for room names.
func Room(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("room", name)
}

// Channel creates an attribute for bus channel names.
func Channel(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("channel", name)
}

// Origin creates an attribute for envelope origin instance ids.
func Origin(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("origin", id)
}

// Scope creates an attribute for send scopes (all, user, room).
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Key creates a generic key-value attribute with nil safety.
func Key(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}
