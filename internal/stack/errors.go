package stack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/mmr-tortoise/t4dev/internal/model"
)

// Message fragments the CloudFormation API uses for conditions that the CLI
// treats as outcomes rather than failures. The API reports both as a generic
// ValidationError, so the message text is the only discriminator.
const (
	msgDoesNotExist = "does not exist"
	msgNoUpdates    = "No updates are to be performed"
)

// ErrNoUpdates is returned by Update when the submitted template and
// parameters match the deployed stack.
var ErrNoUpdates = errors.New("no updates are to be performed")

// ErrWaitTimeout is wrapped into the error returned when polling exceeds
// its wall-clock timeout.
var ErrWaitTimeout = errors.New("timed out waiting for stack operation")

// apiMessage returns the service message for err, falling back to the full
// error string when err is not a smithy API error.
func apiMessage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorMessage()
	}
	return err.Error()
}

// IsNotExist reports whether err says the stack does not exist.
func IsNotExist(err error) bool {
	return err != nil && strings.Contains(apiMessage(err), msgDoesNotExist)
}

// IsNoUpdates reports whether err says the update would change nothing.
func IsNoUpdates(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNoUpdates) || strings.Contains(apiMessage(err), msgNoUpdates)
}

// IsThrottled reports whether err is a rate-limit rejection that is worth
// retrying on the next poll.
func IsThrottled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded":
		return true
	}
	return false
}

// FailedError reports a stack operation that ended in a failure state.
// Events holds the most recent failed resource events, newest first.
type FailedError struct {
	Action model.Action
	Status model.StackStatus
	Reason string
	Events []model.StackEvent
}

func (e *FailedError) Error() string {
	msg := fmt.Sprintf("stack %s ended in %s", e.Action, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
