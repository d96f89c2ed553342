package stack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/mmr-tortoise/t4dev/internal/model"
)

// DefaultPollInterval is the delay between status polls.
const DefaultPollInterval = 5 * time.Second

// instanceResourceType is the resource type whose physical IDs are EC2
// instance IDs.
const instanceResourceType = "AWS::EC2::Instance"

// failedEventLimit caps the number of failure events attached to a
// FailedError.
const failedEventLimit = 5

// Tag applied to every stack the CLI creates or updates.
const (
	ManagedByTagKey   = "t4dev:managed-by"
	ManagedByTagValue = "t4dev"
)

// capabilities acknowledges IAM resources in the template.
var capabilities = []cftypes.Capability{
	cftypes.CapabilityCapabilityIam,
	cftypes.CapabilityCapabilityNamedIam,
}

// Manager runs lifecycle operations against one named stack.
//
// Usage:
//
//	clients, err := stack.Connect(ctx, "us-east-1", "")
//	if err != nil { /* handle */ }
//	m := stack.NewManager(clients.CloudFormation, clients.EC2, "t4-dev-environment")
//	status, err := m.Status(ctx)
type Manager struct {
	cf   CloudFormationAPI
	ec2  EC2API
	name string

	pollInterval time.Duration

	// progress receives the "Waiting for ..." line and the poll dots.
	progress io.Writer

	// newToken generates ClientRequestTokens. Replaced in tests.
	newToken func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithProgress sets the writer that receives wait progress.
func WithProgress(w io.Writer) Option {
	return func(m *Manager) {
		if w != nil {
			m.progress = w
		}
	}
}

// WithTokenFunc overrides ClientRequestToken generation.
func WithTokenFunc(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newToken = fn
		}
	}
}

// NewManager creates a Manager for the stack called name.
func NewManager(cf CloudFormationAPI, ec2Client EC2API, name string, opts ...Option) *Manager {
	m := &Manager{
		cf:           cf,
		ec2:          ec2Client,
		name:         name,
		pollInterval: DefaultPollInterval,
		progress:     io.Discard,
		newToken:     func() string { return "t4dev-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the stack name.
func (m *Manager) Name() string {
	return m.name
}

// describeStack returns the stack as reported by DescribeStacks. An empty
// result is turned into a "does not exist" error so IsNotExist covers it.
func (m *Manager) describeStack(ctx context.Context) (*cftypes.Stack, error) {
	out, err := m.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(m.name),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("stack %s %s", m.name, msgDoesNotExist)
	}
	return &out.Stacks[0], nil
}

// Status returns the current stack status, or StatusDoesNotExist when the
// API does not know the stack.
func (m *Manager) Status(ctx context.Context) (model.StackStatus, error) {
	s, err := m.describeStack(ctx)
	if err != nil {
		if IsNotExist(err) {
			return model.StatusDoesNotExist, nil
		}
		return "", model.WrapCLIError(model.ExitAPIError,
			fmt.Sprintf("failed to describe stack %s", m.name), err)
	}
	return model.StackStatus(s.StackStatus), nil
}

// Create submits a new stack and waits for it to finish.
func (m *Manager) Create(ctx context.Context, body string, params map[string]string, timeout time.Duration) error {
	slog.Debug("creating stack", slog.String("stack", m.name), slog.Int("body_bytes", len(body)))

	_, err := m.cf.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:          aws.String(m.name),
		TemplateBody:       aws.String(body),
		Parameters:         buildParameters(params),
		Capabilities:       capabilities,
		Tags:               managedTags(),
		ClientRequestToken: aws.String(m.newToken()),
	})
	if err != nil {
		return model.WrapCLIError(model.ExitAPIError, "Error create stack", err)
	}

	return m.Wait(ctx, model.ActionCreate, timeout)
}

// Update submits a template update and waits for it to finish.
// It returns ErrNoUpdates when the API reports nothing to change.
func (m *Manager) Update(ctx context.Context, body string, params map[string]string, timeout time.Duration) error {
	slog.Debug("updating stack", slog.String("stack", m.name), slog.Int("body_bytes", len(body)))

	_, err := m.cf.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:          aws.String(m.name),
		TemplateBody:       aws.String(body),
		Parameters:         buildParameters(params),
		Capabilities:       capabilities,
		Tags:               managedTags(),
		ClientRequestToken: aws.String(m.newToken()),
	})
	if err != nil {
		if IsNoUpdates(err) {
			return ErrNoUpdates
		}
		return model.WrapCLIError(model.ExitAPIError, "Error update stack", err)
	}

	return m.Wait(ctx, model.ActionUpdate, timeout)
}

// Delete requests stack deletion and waits until the stack is gone.
func (m *Manager) Delete(ctx context.Context, timeout time.Duration) error {
	slog.Debug("deleting stack", slog.String("stack", m.name))

	_, err := m.cf.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(m.name),
		ClientRequestToken: aws.String(m.newToken()),
	})
	if err != nil {
		return model.WrapCLIError(model.ExitAPIError, "Error deleting stack", err)
	}

	return m.Wait(ctx, model.ActionDelete, timeout)
}

// Wait polls the stack status until the operation for action reaches a
// terminal state or timeout elapses.
//
// Progress is written as "Waiting for stack <action> to complete..."
// followed by one dot per in-progress poll and " Done!" on success.
// A failure state returns a CLIError wrapping *FailedError. Hitting the
// timeout returns a CLIError with ExitTimeout wrapping ErrWaitTimeout.
func (m *Manager) Wait(ctx context.Context, action model.Action, timeout time.Duration) error {
	fmt.Fprintf(m.progress, "Waiting for stack %s to complete...", action)

	start := time.Now()
	err := wait.PollUntilContextTimeout(ctx, m.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		s, err := m.describeStack(ctx)
		if err != nil {
			if action == model.ActionDelete && IsNotExist(err) {
				return true, nil
			}
			if IsThrottled(err) {
				slog.Debug("stack poll throttled", slog.String("stack", m.name))
				fmt.Fprint(m.progress, ".")
				return false, nil
			}
			return false, err
		}

		status := model.StackStatus(s.StackStatus)
		slog.Debug("polled stack status", slog.String("stack", m.name), slog.String("status", status.String()))

		done, failed := evaluate(action, status)
		if failed {
			return false, &FailedError{
				Action: action,
				Status: status,
				Reason: aws.ToString(s.StackStatusReason),
				Events: m.failedEvents(ctx),
			}
		}
		if !done {
			fmt.Fprint(m.progress, ".")
		}
		return done, nil
	})

	if err == nil {
		fmt.Fprintln(m.progress, " Done!")
		slog.Debug("stack operation complete",
			slog.String("stack", m.name),
			slog.String("action", action.String()),
			slog.Duration("elapsed", time.Since(start)))
		return nil
	}

	fmt.Fprintln(m.progress)

	// PollUntilContextTimeout reports its own deadline as DeadlineExceeded.
	// A cancelled parent context is passed through unchanged.
	if wait.Interrupted(err) && ctx.Err() == nil {
		return model.WrapCLIError(model.ExitTimeout,
			fmt.Sprintf("Error waiting for stack: no terminal state after %s", timeout),
			ErrWaitTimeout)
	}
	return model.WrapCLIError(model.ExitAPIError, "Error waiting for stack", err)
}

// evaluate maps a polled status to (done, failed) for the given action.
func evaluate(action model.Action, status model.StackStatus) (done, failed bool) {
	switch action {
	case model.ActionCreate:
		if status == model.StatusCreateComplete {
			return true, false
		}
	case model.ActionUpdate:
		if status == model.StatusUpdateComplete {
			return true, false
		}
	case model.ActionDelete:
		switch status {
		case model.StatusDeleteComplete:
			return true, false
		case model.StatusDeleteFailed:
			return false, true
		}
		// The previous status can linger briefly after DeleteStack.
		return false, false
	}

	// Rollbacks and cleanups keep the stack locked; wait for them to settle.
	if status.IsInProgress() {
		return false, false
	}
	if status.IsFailed() || status.IsDeleted() {
		return false, true
	}
	// A terminal status of another operation, e.g. UPDATE_COMPLETE while
	// waiting for a create.
	return false, true
}

// failedEvents returns the most recent failed events, ignoring lookup errors.
func (m *Manager) failedEvents(ctx context.Context) []model.StackEvent {
	events, err := m.Events(ctx, 0)
	if err != nil {
		slog.Debug("failed to fetch stack events", slog.String("error", err.Error()))
		return nil
	}
	var failed []model.StackEvent
	for _, e := range events {
		if e.IsFailure() {
			failed = append(failed, e)
			if len(failed) == failedEventLimit {
				break
			}
		}
	}
	return failed
}

// Outputs returns the stack outputs keyed by OutputKey. Any API error
// yields an empty map.
func (m *Manager) Outputs(ctx context.Context) map[string]string {
	outputs := make(map[string]string)

	s, err := m.describeStack(ctx)
	if err != nil {
		slog.Debug("failed to read stack outputs", slog.String("error", err.Error()))
		return outputs
	}
	for _, o := range s.Outputs {
		outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return outputs
}

// Instances returns the EC2 instances created by the stack.
func (m *Manager) Instances(ctx context.Context) ([]model.InstanceInfo, error) {
	res, err := m.cf.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{
		StackName: aws.String(m.name),
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitAPIError,
			fmt.Sprintf("failed to list resources of stack %s", m.name), err)
	}

	var ids []string
	for _, r := range res.StackResources {
		if aws.ToString(r.ResourceType) == instanceResourceType && aws.ToString(r.PhysicalResourceId) != "" {
			ids = append(ids, aws.ToString(r.PhysicalResourceId))
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	out, err := m.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitAPIError, "failed to describe stack instances", err)
	}

	var instances []model.InstanceInfo
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			info := model.InstanceInfo{
				InstanceID:   aws.ToString(inst.InstanceId),
				InstanceType: string(inst.InstanceType),
				PublicIP:     aws.ToString(inst.PublicIpAddress),
			}
			if inst.State != nil {
				info.State = string(inst.State.Name)
			}
			instances = append(instances, info)
		}
	}
	return instances, nil
}

// Events returns stack events, newest first. A positive limit truncates the
// result.
func (m *Manager) Events(ctx context.Context, limit int) ([]model.StackEvent, error) {
	out, err := m.cf.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(m.name),
	})
	if err != nil {
		return nil, err
	}

	events := make([]model.StackEvent, 0, len(out.StackEvents))
	for _, e := range out.StackEvents {
		events = append(events, model.StackEvent{
			Timestamp:         aws.ToTime(e.Timestamp),
			LogicalResourceID: aws.ToString(e.LogicalResourceId),
			ResourceType:      aws.ToString(e.ResourceType),
			Status:            string(e.ResourceStatus),
			Reason:            aws.ToString(e.ResourceStatusReason),
		})
	}
	// The API returns newest first; sort anyway so fakes and pagination
	// changes cannot reorder output.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Describe builds a StackInfo. Outputs and instances are read only for a
// stack whose status ends in _COMPLETE and is not a delete state. A
// positive eventLimit includes that many recent events.
func (m *Manager) Describe(ctx context.Context, eventLimit int) (*model.StackInfo, error) {
	info := &model.StackInfo{Name: m.name}

	s, err := m.describeStack(ctx)
	if err != nil {
		if IsNotExist(err) {
			info.Status = model.StatusDoesNotExist
			return info, nil
		}
		return nil, model.WrapCLIError(model.ExitAPIError,
			fmt.Sprintf("failed to describe stack %s", m.name), err)
	}

	info.Status = model.StackStatus(s.StackStatus)
	info.StatusReason = aws.ToString(s.StackStatusReason)

	if info.Status.IsComplete() && !info.Status.IsDeleted() {
		info.Outputs = m.Outputs(ctx)

		instances, err := m.Instances(ctx)
		if err != nil {
			return nil, err
		}
		info.Instances = instances
	}

	if eventLimit > 0 {
		events, err := m.Events(ctx, eventLimit)
		if err != nil {
			slog.Debug("failed to fetch stack events", slog.String("error", err.Error()))
		} else {
			info.Events = events
		}
	}
	return info, nil
}

// buildParameters converts a name→value map into API parameters, sorted by
// name so requests are deterministic.
func buildParameters(params map[string]string) []cftypes.Parameter {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]cftypes.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, cftypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(params[k]),
		})
	}
	return out
}

func managedTags() []cftypes.Tag {
	return []cftypes.Tag{{
		Key:   aws.String(ManagedByTagKey),
		Value: aws.String(ManagedByTagValue),
	}}
}

// AsFailedError extracts a *FailedError from err's chain.
func AsFailedError(err error) (*FailedError, bool) {
	var failed *FailedError
	if errors.As(err, &failed) {
		return failed, true
	}
	return nil, false
}
