// Package model defines the domain types and value objects for the t4dev CLI.
//
// The types hold no API clients and do no I/O; other packages build them
// from API responses.
// The stack entities (StackInfo, InstanceInfo, StackEvent) are transient
// views of a CloudFormation stack that is owned and mutated entirely by the
// remote service; they are rebuilt from API responses on every invocation.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
