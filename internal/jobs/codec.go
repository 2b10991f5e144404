package jobs

import (
	"encoding/json"
	"fmt"
)

// EncodePayload marshals a typed payload for the given job type, rejecting
// mismatched payload structs up front rather than at decode time.
func EncodePayload(t JobType, payload any) ([]byte, error) {
	if !t.IsValid() {
		return nil, ErrInvalidJobType
	}

	switch t {
	case JobVerificationEmail:
		switch payload.(type) {
		case VerificationEmailPayload, *VerificationEmailPayload:
		default:
			return nil, ErrPayloadTypeMismatch
		}

	case JobPasswordResetEmail:
		switch payload.(type) {
		case PasswordResetEmailPayload, *PasswordResetEmailPayload:
		default:
			return nil, ErrPayloadTypeMismatch
		}
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	return b, nil
}

// DecodePayload unmarshals raw payload bytes into the typed struct for the
// job type.
func DecodePayload(t JobType, raw []byte) (any, error) {
	if !t.IsValid() {
		return nil, ErrInvalidJobType
	}
	if len(raw) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch t {
	case JobVerificationEmail:
		var p VerificationEmailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	case JobPasswordResetEmail:
		var p PasswordResetEmailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	default:
		return nil, ErrInvalidJobType
	}
}
