package jobs

import "fmt"

// ValidatePayload enforces the required fields per job type before a job row
// is written. A job that cannot possibly execute should never be enqueued.
func ValidatePayload(t JobType, payload any) error {
	switch t {
	case JobVerificationEmail:
		p, ok := payload.(VerificationEmailPayload)
		if !ok {
			if pp, ok2 := payload.(*VerificationEmailPayload); ok2 {
				p = *pp
			} else {
				return ErrPayloadTypeMismatch
			}
		}
		return requireFields(map[string]string{
			"accountId": p.AccountID,
			"email":     p.Email,
			"token":     p.Token,
		})

	case JobPasswordResetEmail:
		p, ok := payload.(PasswordResetEmailPayload)
		if !ok {
			if pp, ok2 := payload.(*PasswordResetEmailPayload); ok2 {
				p = *pp
			} else {
				return ErrPayloadTypeMismatch
			}
		}
		return requireFields(map[string]string{
			"accountId": p.AccountID,
			"email":     p.Email,
			"token":     p.Token,
		})

	default:
		return ErrInvalidJobType
	}
}

func requireFields(fields map[string]string) error {
	for name, val := range fields {
		if val == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidJobPayload, name)
		}
	}
	return nil
}
