package broadcast

import (
	"errors"
	"reflect"
)

// ErrInvalidIdentity is returned when an identity does not resolve to a
// usable channel name.
var ErrInvalidIdentity = errors.New("invalid channel identity")

// Identity resolves to a channel name. It is implemented by Name, Key and
// *Channel.
type Identity interface {
	channelName() (string, error)
}

// Name identifies a channel by its name.
type Name string

func (n Name) channelName() (string, error) {
	if n == "" {
		return "", ErrInvalidIdentity
	}
	return string(n), nil
}

// Key identifies a channel by a type or category name and an optional
// instance id. It resolves to "<Type>:<ID>", or to "<Type>" without an id.
type Key struct {
	Type string
	ID   string
}

func (k Key) channelName() (string, error) {
	if k.Type == "" {
		return "", ErrInvalidIdentity
	}
	if k.ID == "" {
		return k.Type, nil
	}
	return k.Type + ":" + k.ID, nil
}

// String returns the channel name of k, or "" for an invalid key.
func (k Key) String() string {
	name, _ := k.channelName()
	return name
}

// For returns the key of the channel for type T and instance id.
//
//	broadcast.For[Order]("42") // "Order:42"
func For[T any](id string) Key {
	return Key{Type: reflect.TypeFor[T]().Name(), ID: id}
}

func resolveName(id Identity) (string, error) {
	if id == nil {
		return "", ErrInvalidIdentity
	}
	return id.channelName()
}
