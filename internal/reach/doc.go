// Package reach checks whether a TCP service on a remote host accepts
// connections.
//
// The deploy status command uses it to report whether the SSH port of each
// stack instance is open from the machine running the CLI. A security group
// that does not include the caller's address shows up here as unreachable
// even though the instance itself is running.
package reach
