// Package realtime fans committed component mutations out to every editor
// that has the affected page open.
//
// Each page has one logical channel. Envelopes published on it are delivered
// in page revision order to every subscriber except the ones that belong to
// the sender. Delivery is best effort and at most once: a subscriber that is
// slow, disconnected or missed a gap re-fetches the page.
package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Operation string

const (
	OpCreate         Operation = "create"
	OpUpdate         Operation = "update"
	OpDelete         Operation = "delete"
	OpUpdatePosition Operation = "update-position"
	// OpShiftPositions carries no rows. Recipients re-fetch the page.
	OpShiftPositions Operation = "shift-positions"
)

const channelPrefix = "page:"

// ChannelName is the channel every editor of the page listens on.
func ChannelName(pageID uint64) string {
	return channelPrefix + strconv.FormatUint(pageID, 10)
}

// PageIDFromChannel is the inverse of ChannelName.
func PageIDFromChannel(channel string) (uint64, error) {
	raw, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return 0, fmt.Errorf("not a page channel: %q", channel)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a page channel: %q", channel)
	}
	return id, nil
}

// Envelope is the frame sent to subscribers of a page.
type Envelope struct {
	Type     Operation       `json:"type"`
	PageID   uint64          `json:"page_id"`
	Revision uint64          `json:"revision"`
	SenderID string          `json:"sender_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes data as the envelope payload. A nil data leaves the
// payload empty.
func NewEnvelope(op Operation, pageID, revision uint64, senderID string, data any) (Envelope, error) {
	env := Envelope{
		Type:     op,
		PageID:   pageID,
		Revision: revision,
		SenderID: senderID,
	}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s envelope for page %d: %w", op, pageID, err)
	}
	env.Data = raw
	return env, nil
}

// UserSender is the sender id of a request that did not identify its client.
func UserSender(userID uint64) string {
	return "user:" + strconv.FormatUint(userID, 10)
}
