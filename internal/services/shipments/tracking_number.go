package shipments

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	trackingNumberPrefix = "DT"
	trackingNumberHexLen = 12

	// attempts to find an unused tracking number before giving up
	maxTrackingNumberAttempts = 5
)

// NewTrackingNumber returns "DT" followed by 12 upper-case hex characters taken from a random UUID.
func NewTrackingNumber() string {
	id := uuid.New()
	return trackingNumberPrefix + strings.ToUpper(hex.EncodeToString(id[:trackingNumberHexLen/2]))
}
