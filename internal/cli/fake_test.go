package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/t4dev/internal/gpu"
)

// fakeStackAPI is a scripted CloudFormation + EC2 backend. Each
// DescribeStacks call consumes the next status; the last one repeats.
// An empty status means the stack does not exist.
type fakeStackAPI struct {
	statuses []string
	calls    int

	outputs   []cftypes.Output
	resources []cftypes.StackResource
	instances []ec2types.Instance
	events    []cftypes.StackEvent

	createErr error
	updateErr error

	createInput *cloudformation.CreateStackInput
	updateInput *cloudformation.UpdateStackInput
	deleted     bool
}

func (f *fakeStackAPI) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	status := ""
	if len(f.statuses) > 0 {
		status = f.statuses[min(f.calls, len(f.statuses)-1)]
	}
	f.calls++
	if status == "" {
		return nil, &smithy.GenericAPIError{
			Code:    "ValidationError",
			Message: fmt.Sprintf("Stack with id %s does not exist", aws.ToString(in.StackName)),
		}
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []cftypes.Stack{{
		StackName:   in.StackName,
		StackStatus: cftypes.StackStatus(status),
		Outputs:     f.outputs,
	}}}, nil
}

func (f *fakeStackAPI) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createInput = in
	return &cloudformation.CreateStackOutput{}, f.createErr
}

func (f *fakeStackAPI) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updateInput = in
	return &cloudformation.UpdateStackOutput{}, f.updateErr
}

func (f *fakeStackAPI) DeleteStack(context.Context, *cloudformation.DeleteStackInput, ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.deleted = true
	return &cloudformation.DeleteStackOutput{}, nil
}

func (f *fakeStackAPI) DescribeStackResources(context.Context, *cloudformation.DescribeStackResourcesInput, ...func(*cloudformation.Options)) (*cloudformation.DescribeStackResourcesOutput, error) {
	return &cloudformation.DescribeStackResourcesOutput{StackResources: f.resources}, nil
}

func (f *fakeStackAPI) DescribeStackEvents(context.Context, *cloudformation.DescribeStackEventsInput, ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	return &cloudformation.DescribeStackEventsOutput{StackEvents: f.events}, nil
}

func (f *fakeStackAPI) DescribeInstances(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: f.instances}},
	}, nil
}

// withInstance adds one running instance with a public IP to the fake.
func (f *fakeStackAPI) withInstance() *fakeStackAPI {
	f.outputs = []cftypes.Output{
		{OutputKey: aws.String("PublicIp"), OutputValue: aws.String("54.1.2.3")},
		{OutputKey: aws.String("InstanceId"), OutputValue: aws.String("i-0abc")},
	}
	f.resources = []cftypes.StackResource{
		{ResourceType: aws.String("AWS::EC2::Instance"), PhysicalResourceId: aws.String("i-0abc")},
	}
	f.instances = []ec2types.Instance{{
		InstanceId:      aws.String("i-0abc"),
		InstanceType:    ec2types.InstanceTypeG4dnXlarge,
		PublicIpAddress: aws.String("54.1.2.3"),
		State:           &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
	}}
	return f
}

// testTemplate is a minimal template declaring the parameters the CLI
// supplies.
const testTemplate = `AWSTemplateFormatVersion: "2010-09-09"
Parameters:
  KeyName:
    Type: AWS::EC2::KeyPair::KeyName
  MyIpAddress:
    Type: String
Resources:
  GPUInstance:
    Type: AWS::EC2::Instance
    Properties:
      KeyName: !Ref KeyName
`

// writeTemplate writes content to a temporary template file.
func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloudformation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs a root command built around sub with args and returns
// stdout and stderr.
func execute(t *testing.T, sub *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	// The working directory may hold a developer's .t4dev.yaml.
	t.Chdir(t.TempDir())

	root := newRootCommand(sub)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// fakeRunner serves canned nvidia-smi and python output.
type fakeRunner struct {
	smi   string
	query string
	torch string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	switch {
	case name == gpu.DefaultSMIBinary && len(args) > 0 && strings.HasPrefix(args[0], "--query-gpu="):
		return f.query, nil
	case name == gpu.DefaultSMIBinary && f.smi != "":
		return f.smi, nil
	case name == gpu.DefaultPython && f.torch != "":
		return f.torch, nil
	}
	return "", fmt.Errorf("%s: %w", name, gpu.ErrCommandNotFound)
}
