// Package stack manages the lifecycle of a single CloudFormation stack for
// the t4dev CLI.
//
// This package handles:
//   - AWS client construction from the shared config/credential chain
//     (github.com/aws/aws-sdk-go-v2/config)
//   - create, update and delete requests with idempotency tokens
//   - polling the stack status until a terminal state or a wall-clock
//     timeout (k8s.io/apimachinery/pkg/util/wait)
//   - reading outputs, events and the EC2 instances the stack owns
//
// The stack itself is owned by the remote service. The Manager never edits
// resources directly; every change goes through the CloudFormation API.
package stack
