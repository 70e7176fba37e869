package event

import (
	"fmt"
	"strings"
)

// Reserved bus subjects for non-room channels.
const (
	// SubjectGlobal carries global chat fan-out.
	SubjectGlobal = "global"
	// SubjectSystem carries system and admin broadcasts.
	SubjectSystem = "system"
	// SubjectRoomPrefix prefixes room-scoped subjects.
	SubjectRoomPrefix = "rooms"
)

// RoomSubject derives the bus subject for a room-scoped envelope.
// Room ids are underscore-delimited, plane first, then zone, then
// sub-zone, then the room's own name:
//
//	earth_arkhamcity_sanitarium_room_foyer_001 -> rooms.arkhamcity.sanitarium
//
// All occupants of a zone/sub-zone pair share one subject, so a process
// holds at most one subscription per sub-zone regardless of room count.
//
// Postcondition: Returns "rooms.<zone>.<subzone>" or an error when the
// room id has fewer than three segments.
func RoomSubject(roomID string) (string, error) {
	parts := strings.Split(roomID, "_")
	if len(parts) < 3 {
		return "", fmt.Errorf("room id %q: want at least plane_zone_subzone", roomID)
	}
	return fmt.Sprintf("%s.%s.%s", SubjectRoomPrefix, parts[1], parts[2]), nil
}
