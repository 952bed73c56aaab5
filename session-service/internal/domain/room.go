package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxRoomPartLength bounds campaign ids and sub-room names.
const MaxRoomPartLength = 64

// roomSeparator joins campaign and sub-room in the string form used at the
// relay and directory edges.
const roomSeparator = "/"

// RoomKey addresses a broadcast scope: a campaign, optionally narrowed to a
// sub-room ("ooc", "party-a", ...). The zero Subroom is the campaign's main room.
type RoomKey struct {
	CampaignID string `json:"campaign_id"`
	Subroom    string `json:"room,omitempty"`
}

// NewRoomKey normalises and validates a key.
func NewRoomKey(campaignID, subroom string) (RoomKey, error) {
	key := RoomKey{
		CampaignID: strings.TrimSpace(campaignID),
		Subroom:    strings.TrimSpace(subroom),
	}
	if err := key.Validate(); err != nil {
		return RoomKey{}, err
	}
	return key, nil
}

// Validate checks both parts are usable as a key.
func (k RoomKey) Validate() error {
	if k.CampaignID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if err := validPart("campaign id", k.CampaignID); err != nil {
		return err
	}
	if k.Subroom != "" {
		if err := validPart("room", k.Subroom); err != nil {
			return err
		}
	}
	return nil
}

func validPart(name, s string) error {
	if utf8.RuneCountInString(s) > MaxRoomPartLength {
		return fmt.Errorf("%s exceeds %d characters", name, MaxRoomPartLength)
	}
	if strings.ContainsAny(s, roomSeparator+"*: \t\r\n") {
		return fmt.Errorf("%s contains reserved characters", name)
	}
	return nil
}

// String renders the key for external addressing (pub/sub channels,
// directory keys, log fields).
func (k RoomKey) String() string {
	if k.Subroom == "" {
		return k.CampaignID
	}
	return k.CampaignID + roomSeparator + k.Subroom
}

// ParseRoomKey is the inverse of RoomKey.String.
func ParseRoomKey(s string) (RoomKey, error) {
	campaignID, subroom, _ := strings.Cut(s, roomSeparator)
	return NewRoomKey(campaignID, subroom)
}
