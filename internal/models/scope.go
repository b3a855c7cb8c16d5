package models

import "strings"

// ScopeKind distinguishes room conversations from private ones.
type ScopeKind string

const (
	ScopeRoom   ScopeKind = "room"
	ScopeDirect ScopeKind = "dm"
)

// Scope names a conversation from the local user's point of view: a room id
// or the peer's user id.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func RoomScope(roomID string) Scope   { return Scope{Kind: ScopeRoom, ID: roomID} }
func DirectScope(peerID string) Scope { return Scope{Kind: ScopeDirect, ID: peerID} }

// Key is a stable map key such as "room:general" or "dm:42".
func (s Scope) Key() string { return string(s.Kind) + ":" + s.ID }

func (s Scope) String() string { return s.Key() }

func (s Scope) IsZero() bool { return s.ID == "" }

// ParseScope accepts "room:<id>", "dm:<id>" or a bare room id.
func ParseScope(v string) Scope {
	if id, ok := strings.CutPrefix(v, string(ScopeDirect)+":"); ok {
		return DirectScope(id)
	}
	if id, ok := strings.CutPrefix(v, string(ScopeRoom)+":"); ok {
		return RoomScope(id)
	}
	return RoomScope(v)
}
