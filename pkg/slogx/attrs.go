package slogx

import (
	"log/slog"
)

const (
	// KeyLoggerName is the attribute key carrying the component logger name.
	KeyLoggerName = "logger"
	// KeyChannel is the attribute key carrying a channel name.
	KeyChannel = "channel"
	// KeySubscription is the attribute key carrying a subscription id.
	KeySubscription = "subscription"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
// A nil error renders as an empty string instead of panicking.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// LoggerName creates a slog.Attr with the provided logger name.
// The attribute key is defined by KeyLoggerName.
//
// Example:
//
//	lg := slog.Default().With(slogx.LoggerName("broadcast.transport.redis"))
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Channel creates a slog.Attr for a channel name.
func Channel(name string) slog.Attr {
	return slog.String(KeyChannel, name)
}

// Subscription creates a slog.Attr for a subscription id.
func Subscription(id string) slog.Attr {
	return slog.String(KeySubscription, id)
}

// Named returns the default logger with the logger name attribute attached.
func Named(name string) *slog.Logger {
	return slog.Default().With(LoggerName(name))
}
