package validation

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"proctorlink/internal/core/domain"
)

var (
	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// MaxFramePayloadBytes caps a single encoded frame accepted at the edge.
const MaxFramePayloadBytes = 4 << 20

// ValidateSessionID validates session ID format at the gateway edge. The
// engine's own validity predicate lives in the session service; the gateway
// revalidates because the input is untrusted.
func ValidateSessionID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if id == "null" || id == "undefined" {
		return fmt.Errorf("session id is a placeholder value")
	}
	if len(id) < domain.MinSessionIDLength {
		return fmt.Errorf("session id must be at least %d characters", domain.MinSessionIDLength)
	}
	if len(id) > 128 {
		return fmt.Errorf("session id is too long (max 128 characters)")
	}
	if !SessionIDRegex.MatchString(id) {
		return fmt.Errorf("session id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateFramePayload validates an encoded frame payload.
func ValidateFramePayload(data string) error {
	if data == "" {
		return fmt.Errorf("frame data is required")
	}
	if len(data) > MaxFramePayloadBytes {
		return fmt.Errorf("frame data exceeds %d bytes", MaxFramePayloadBytes)
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return fmt.Errorf("frame data is not valid base64: %w", err)
	}
	return nil
}

// ValidateFrameKind validates the envelope type field.
func ValidateFrameKind(kind string) error {
	switch domain.FrameKind(kind) {
	case domain.FrameVideo, domain.FrameAudio:
		return nil
	default:
		return fmt.Errorf("invalid frame type: %q", kind)
	}
}
