package stack

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// pollResult is one scripted DescribeStacks response.
type pollResult struct {
	status string
	reason string
	err    error
}

// fakeCloudFormation is a scripted CloudFormationAPI. Each DescribeStacks
// call consumes the next entry of polls; the last entry repeats.
type fakeCloudFormation struct {
	mu sync.Mutex

	polls     []pollResult
	pollCalls int
	outputs   []cftypes.Output
	resources []cftypes.StackResource
	events    []cftypes.StackEvent

	createErr error
	updateErr error
	deleteErr error

	createInput *cloudformation.CreateStackInput
	updateInput *cloudformation.UpdateStackInput
	deleteInput *cloudformation.DeleteStackInput
}

func (f *fakeCloudFormation) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.polls) == 0 {
		return nil, notExistErr(aws.ToString(in.StackName))
	}
	idx := f.pollCalls
	if idx >= len(f.polls) {
		idx = len(f.polls) - 1
	}
	f.pollCalls++

	p := f.polls[idx]
	if p.err != nil {
		return nil, p.err
	}
	return &cloudformation.DescribeStacksOutput{
		Stacks: []cftypes.Stack{{
			StackName:         in.StackName,
			StackStatus:       cftypes.StackStatus(p.status),
			StackStatusReason: optString(p.reason),
			Outputs:           f.outputs,
		}},
	}, nil
}

func (f *fakeCloudFormation) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createInput = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &cloudformation.CreateStackOutput{StackId: aws.String("arn:stack/" + aws.ToString(in.StackName))}, nil
}

func (f *fakeCloudFormation) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updateInput = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cloudformation.UpdateStackOutput{StackId: aws.String("arn:stack/" + aws.ToString(in.StackName))}, nil
}

func (f *fakeCloudFormation) DeleteStack(_ context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.deleteInput = in
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &cloudformation.DeleteStackOutput{}, nil
}

func (f *fakeCloudFormation) DescribeStackResources(_ context.Context, _ *cloudformation.DescribeStackResourcesInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackResourcesOutput, error) {
	return &cloudformation.DescribeStackResourcesOutput{StackResources: f.resources}, nil
}

func (f *fakeCloudFormation) DescribeStackEvents(_ context.Context, _ *cloudformation.DescribeStackEventsInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	return &cloudformation.DescribeStackEventsOutput{StackEvents: f.events}, nil
}

// fakeEC2 returns the configured instances for any DescribeInstances call.
type fakeEC2 struct {
	instances []ec2types.Instance
	requested []string
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.requested = append(f.requested, in.InstanceIds...)
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: f.instances}},
	}, nil
}

func notExistErr(name string) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "Stack with id " + name + " does not exist",
	}
}

func noUpdatesErr() error {
	return &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "No updates are to be performed.",
	}
}

func throttleErr() error {
	return &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func stackEvent(ts time.Time, logicalID, status, reason string) cftypes.StackEvent {
	return cftypes.StackEvent{
		Timestamp:            aws.Time(ts),
		LogicalResourceId:    aws.String(logicalID),
		ResourceType:         aws.String("AWS::EC2::Instance"),
		ResourceStatus:       cftypes.ResourceStatus(status),
		ResourceStatusReason: optString(reason),
	}
}

// smithyErr is a minimal smithy.APIError with a configurable code.
type smithyErr struct {
	code string
	msg  string
}

func (e *smithyErr) Error() string                 { return e.code + ": " + e.msg }
func (e *smithyErr) ErrorCode() string             { return e.code }
func (e *smithyErr) ErrorMessage() string          { return e.msg }
func (e *smithyErr) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }
