package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// JobCursor is the keyset cursor for the admin jobs listing, ordered by
// (updated_at, id) descending.
type JobCursor struct {
	UpdatedAt time.Time `json:"updatedAt"`
	ID        string    `json:"id"`
}

func EncodeJobCursor(updatedAt time.Time, id string) (string, error) {
	b, err := json.Marshal(JobCursor{UpdatedAt: updatedAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeJobCursor(cursor string) (JobCursor, error) {
	if cursor == "" {
		return JobCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return JobCursor{}, err
	}

	var c JobCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return JobCursor{}, err
	}

	if c.ID == "" || c.UpdatedAt.IsZero() {
		return JobCursor{}, errors.New("incomplete cursor")
	}

	return c, nil
}
