package core

import (
	"fmt"
	"time"
)

// Commit status states understood by the external status API.
const (
	StatusStatePending = "pending"
	StatusStateSuccess = "success"
	StatusStateFailure = "failure"
	StatusStateError   = "error"
)

// StatusKey identifies one external commit status line.
type StatusKey struct {
	Owner   string
	Repo    string
	SHA     string
	Context string
}

func (k StatusKey) String() string {
	return fmt.Sprintf("%s/%s@%s[%s]", k.Owner, k.Repo, k.SHA, k.Context)
}

// StatusEntry mirrors the desired external status for a StatusKey. Dirty is
// true until the current values have been confirmed upstream. Revision is
// bumped on every change so a push can only clear the revision it sent.
type StatusEntry struct {
	ID            int64
	Key           StatusKey
	State         string
	TargetURL     string
	Description   string
	Dirty         bool
	Revision      int64
	Attempts      int
	NextAttemptAt time.Time
	UpdatedAt     time.Time
}

// StatusUpdate carries the fields to change on a mirror entry. Nil fields are
// left untouched.
type StatusUpdate struct {
	State       *string
	TargetURL   *string
	Description *string
}
