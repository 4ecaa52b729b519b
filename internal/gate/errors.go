package gate

import (
	"errors"
	"fmt"
	"time"

	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	"github.com/smallbiznis/contentgate/internal/tier"
)

var (
	ErrQuotaExceeded         = errors.New("quota_exceeded")
	ErrNotApproved           = errors.New("not_approved")
	ErrSubmissionNotFound    = subdomain.ErrNotFound
	ErrCapabilityUnavailable = errors.New("capability_unavailable")
)

// QuotaExceededError is returned when the ledger refuses a metered action.
// Nothing was recorded for the refused call.
type QuotaExceededError struct {
	Action    tier.Action
	Used      int64
	Limit     tier.Limit
	PeriodEnd time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly %s limit reached (%d/%s), resets %s",
		e.Action, e.Used, e.Limit, e.PeriodEnd.UTC().Format(time.RFC3339))
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// NotApprovedError is returned for downloads of content that is not approved.
type NotApprovedError struct {
	Status subdomain.Status
}

func (e *NotApprovedError) Error() string {
	switch e.Status {
	case subdomain.StatusRejected:
		return "submission was rejected"
	case subdomain.StatusPending:
		return "submission is pending review"
	default:
		return fmt.Sprintf("submission is %s", e.Status)
	}
}

func (e *NotApprovedError) Is(target error) bool {
	return target == ErrNotApproved
}
