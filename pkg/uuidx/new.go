package uuidx

import "github.com/google/uuid"

// New generates a new UUID using the version 7 format and returns it.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a new version 7 UUID and returns it as a string.
// Version 7 ids sort by creation time, which keeps subscription ids in log
// output ordered the way they were handed out.
func NewString() string {
	return New().String()
}

// Prefixed returns a version 7 UUID string with the given prefix and an
// underscore separator, e.g. "sub_0190...". An empty prefix returns the bare id.
func Prefixed(prefix string) string {
	if prefix == "" {
		return NewString()
	}
	return prefix + "_" + NewString()
}
