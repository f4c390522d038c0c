package util

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrModuleNotFound     = errors.New("module not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAssignmentNotFound = errors.New("assignment not found")

	ErrForbidden        = errors.New("forbidden")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrAttemptClosed    = errors.New("attempt is no longer active")

	ErrAssignmentRequired     = errors.New("module requires an active assignment")
	ErrNotEnrolled            = errors.New("user is not enrolled in this module")
	ErrInvalidAssignment      = errors.New("invalid assignment for this user and module")
	ErrActiveAssignmentExists = errors.New("user already has an active assignment for this module")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidRecurrence      = errors.New("invalid recurrence")
	ErrConcurrentUpdate       = errors.New("attempt was modified concurrently, please retry")
	ErrInvalidCursor          = errors.New("invalid cursor")

	ErrInvalidAnswer         = errors.New("one or more answers reference invalid questions")
	ErrIncompleteAnswers     = errors.New("please answer all questions before submitting")
	ErrSnapshotFailed        = errors.New("failed to snapshot module")
	ErrOverlappingScoreBands = errors.New("score bands must be disjoint")
	ErrInvalidScoreBand      = errors.New("score band min must not exceed max")
)

// IsNotFound 判断是否属于 NotFound 类错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrModuleNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrAssignmentNotFound)
}
