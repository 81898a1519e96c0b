package channel

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// Separator splits the family from the wildcard value.
	Separator = "."
	// Placeholder marks the wildcard segment in listener patterns.
	Placeholder = "*"

	channelKeyPrefix = "ws:channel:"
	eventKeyPrefix   = "ws:listener:"
)

// ErrInvalidChannelName is returned for identifiers that do not parse.
var ErrInvalidChannelName = errors.New("invalid channel name")

// Info is the parsed form of a channel identifier.
type Info struct {
	Name        string // canonical identifier, e.g. "room.42"
	Family      string // e.g. "room"
	ListenerKey string // e.g. "ws:channel:room"
	Wildcard    string // e.g. "42"
	HasWildcard bool
}

// Pattern returns the listener pattern this channel belongs to.
func (i Info) Pattern() string {
	if i.Name == i.Family {
		return i.Family
	}
	return i.Family + Separator + Placeholder
}

// Parse splits a channel identifier of the form family[.value].
func Parse(identifier string) (Info, error) {
	name := strings.TrimSpace(identifier)
	if name == "" {
		return Info{}, fmt.Errorf("%w: empty", ErrInvalidChannelName)
	}

	family, value, found := strings.Cut(name, Separator)
	if !validFamily(family) {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidChannelName, identifier)
	}

	info := Info{
		Name:        name,
		Family:      family,
		ListenerKey: ListenerKey(family),
	}
	if !found {
		return info, nil
	}
	if value == "" || strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidChannelName, identifier)
	}
	if value != Placeholder {
		info.Wildcard = value
		info.HasWildcard = true
	}
	return info, nil
}

// ListenerKey returns the registry key for a channel family.
func ListenerKey(family string) string {
	return channelKeyPrefix + family
}

// EventKey returns the registry key for a connection-scoped event.
func EventKey(event string) string {
	return eventKeyPrefix + event
}

func validFamily(family string) bool {
	if family == "" {
		return false
	}
	for _, r := range family {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == ':':
		default:
			return false
		}
	}
	return true
}
