// Package udpserver implements the datagram ingestion protocol: chunked
// image uploads terminated by END, single datagram JSON corrections, and a
// JSON reply to the sender for each unit of work.
package udpserver

import (
	"bytes"
	"unicode/utf8"
)

// EndMarker terminates a chunked image transfer.
var EndMarker = []byte("END")

// Wire error texts produced by the server itself.
const (
	MsgServerBusy      = "Server busy"
	MsgPayloadTooLarge = "Payload too large"
	MsgRateLimited     = "Rate limit exceeded"
)

// Kind classifies a unit of work.
type Kind int

const (
	// KindImage is a reassembled image transfer.
	KindImage Kind = iota
	// KindCorrection is a JSON correction message.
	KindCorrection
)

func (k Kind) String() string {
	if k == KindCorrection {
		return "correction"
	}
	return "image"
}

// IsEnd reports whether payload is exactly the END sentinel.
func IsEnd(payload []byte) bool {
	return bytes.Equal(payload, EndMarker)
}

// IsCorrection reports whether a datagram that is not part of a pending
// transfer is a correction message: valid UTF-8 starting with '{'. Size
// does not matter.
func IsCorrection(payload []byte) bool {
	return len(payload) > 0 && payload[0] == '{' && utf8.Valid(payload)
}
