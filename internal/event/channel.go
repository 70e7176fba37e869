// Package event defines the envelope moving through the broadcasting
// pipeline, its channel taxonomy, and the bus subject naming scheme.
package event

import "strings"

// ChannelKind enumerates the closed set of delivery semantics.
type ChannelKind int

const (
	// ChannelUnknown is the fallback for unrecognized channel strings.
	ChannelUnknown ChannelKind = iota
	// ChannelRoomLocal delivers to the sender's room (say, local, emote, pose).
	ChannelRoomLocal
	// ChannelGlobal delivers to every connected player.
	ChannelGlobal
	// ChannelParty delivers to a party. Not implemented; routed to a stub.
	ChannelParty
	// ChannelWhisper delivers to a single named player.
	ChannelWhisper
	// ChannelSystemAdmin delivers like Global with audit priority (system, admin).
	ChannelSystemAdmin
)

// String returns the kind's canonical name.
func (k ChannelKind) String() string {
	switch k {
	case ChannelRoomLocal:
		return "room_local"
	case ChannelGlobal:
		return "global"
	case ChannelParty:
		return "party"
	case ChannelWhisper:
		return "whisper"
	case ChannelSystemAdmin:
		return "system_admin"
	default:
		return "unknown"
	}
}

// Channel is the tagged union of a channel kind and the raw string it
// was parsed from. For RoomLocal and SystemAdmin the raw string is also
// the subtype (say/local/emote/pose, system/admin). For Unknown it
// preserves the unrecognized input for logging.
type Channel struct {
	Kind ChannelKind
	Raw  string
}

// ParseChannel maps a channel string onto the closed Channel set.
// Unrecognized strings produce a ChannelUnknown value that preserves
// the input; they never fail.
func ParseChannel(s string) Channel {
	switch strings.ToLower(s) {
	case "say", "local", "emote", "pose":
		return Channel{Kind: ChannelRoomLocal, Raw: strings.ToLower(s)}
	case "global":
		return Channel{Kind: ChannelGlobal, Raw: "global"}
	case "party":
		return Channel{Kind: ChannelParty, Raw: "party"}
	case "whisper":
		return Channel{Kind: ChannelWhisper, Raw: "whisper"}
	case "system", "admin":
		return Channel{Kind: ChannelSystemAdmin, Raw: strings.ToLower(s)}
	default:
		return Channel{Kind: ChannelUnknown, Raw: s}
	}
}

// Subtype returns the channel subtype for kinds that carry one
// (say/local/emote/pose for RoomLocal, system/admin for SystemAdmin).
func (c Channel) Subtype() string {
	switch c.Kind {
	case ChannelRoomLocal, ChannelSystemAdmin:
		return c.Raw
	default:
		return ""
	}
}
