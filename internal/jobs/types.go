package jobs

type JobType string

const (
	JobVerificationEmail  JobType = "email.verification"
	JobPasswordResetEmail JobType = "email.password_reset"
)

// IsValid checks the job type against the known constants.
func (t JobType) IsValid() bool {
	switch t {
	case JobVerificationEmail, JobPasswordResetEmail:
		return true
	default:
		return false
	}
}
