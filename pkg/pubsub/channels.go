package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for cross-node session fan-out.
//
//	campaign:room:{roomKey}:to_sessions  room-addressed broadcasts
//	campaign:user:{userID}:to_sessions   user-addressed private deliveries
const (
	ChannelRoomToSessions = "campaign:room:%s:to_sessions"
	ChannelUserToSessions = "campaign:user:%s:to_sessions"

	PatternRoomToSessions = "campaign:room:*:to_sessions"
	PatternUserToSessions = "campaign:user:*:to_sessions"
)

// Event types carried on the session channels.
const (
	EventRoomBroadcast = "room_broadcast"
	EventUserDelivery  = "user_delivery"
)

// RoomChannel returns the channel name for room-addressed events.
func RoomChannel(roomKey string) string {
	return fmt.Sprintf(ChannelRoomToSessions, roomKey)
}

// UserChannel returns the channel name for user-addressed events.
func UserChannel(userID string) string {
	return fmt.Sprintf(ChannelUserToSessions, userID)
}

// splitChannel breaks "{prefix}:{scope}:{id}:{suffix}" into its parts. The
// id may itself contain colons.
func splitChannel(channel string) (prefix, scope, id, suffix string, err error) {
	first := strings.Index(channel, ":")
	last := strings.LastIndex(channel, ":")
	if first < 0 || last <= first {
		return "", "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	prefix = channel[:first]
	suffix = channel[last+1:]
	middle := channel[first+1 : last]

	sep := strings.Index(middle, ":")
	if sep < 0 {
		return "", "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	scope = middle[:sep]
	id = middle[sep+1:]
	if prefix == "" || scope == "" || id == "" || suffix == "" {
		return "", "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return prefix, scope, id, suffix, nil
}

// matchPattern reports whether channel matches a pattern whose only
// wildcard is a single "*" segment.
func matchPattern(pattern, channel string) bool {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return pattern == channel
	}
	head, tail := pattern[:star], pattern[star+1:]
	return len(channel) > len(head)+len(tail) &&
		strings.HasPrefix(channel, head) &&
		strings.HasSuffix(channel, tail)
}
