package model

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// Action is the stack lifecycle operation requested with --action.
type Action string

const (
	// ActionCreate creates a stack that must not exist yet.
	ActionCreate Action = "create"

	// ActionUpdate updates a stack that must already exist.
	ActionUpdate Action = "update"

	// ActionDelete deletes the stack if it exists.
	ActionDelete Action = "delete"

	// ActionStatus prints the stack status, outputs and instances.
	ActionStatus Action = "status"
)

// String returns the string representation of Action.
func (a Action) String() string {
	return string(a)
}

// IsValid checks whether the Action value is one of the supported actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionStatus:
		return true
	default:
		return false
	}
}

// Mutates reports whether the action changes remote state.
func (a Action) Mutates() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Gerund returns the progressive form used in progress messages
// ("Creating stack ...").
func (a Action) Gerund() string {
	switch a {
	case ActionCreate:
		return "Creating"
	case ActionUpdate:
		return "Updating"
	case ActionDelete:
		return "Deleting"
	default:
		return "Checking"
	}
}

// PastTense returns the past form used in completion messages
// ("Stack X created successfully.").
func (a Action) PastTense() string {
	switch a {
	case ActionCreate:
		return "created"
	case ActionUpdate:
		return "updated"
	case ActionDelete:
		return "deleted"
	default:
		return "checked"
	}
}

// allActions lists the valid actions in help order.
var allActions = []Action{ActionCreate, ActionUpdate, ActionDelete, ActionStatus}

// ParseAction converts a string to an Action.
// Returns an error if the string does not match any valid action. A close
// misspelling is named in the error.
func ParseAction(s string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(s)))
	if !action.IsValid() {
		msg := fmt.Sprintf("invalid action: %q (valid: create, update, delete, status)", s)
		if guess, ok := suggestAction(string(action)); ok {
			msg += fmt.Sprintf("; did you mean %q?", guess)
		}
		return "", errors.New(msg)
	}
	return action, nil
}

// suggestAction returns the action within edit distance 2 of s.
func suggestAction(s string) (Action, bool) {
	if s == "" {
		return "", false
	}
	best, bestDist := Action(""), 3
	for _, a := range allActions {
		if d := levenshtein.ComputeDistance(s, string(a)); d < bestDist {
			best, bestDist = a, d
		}
	}
	return best, best != ""
}

// StackStatus is the status string reported by the orchestration API,
// e.g. "CREATE_IN_PROGRESS" or "UPDATE_ROLLBACK_COMPLETE".
type StackStatus string

// StatusDoesNotExist is a local sentinel for a stack the API does not know
// about. The remote service never reports it.
const StatusDoesNotExist StackStatus = "DOES_NOT_EXIST"

// Remote statuses referenced by the wait logic.
const (
	StatusCreateComplete         StackStatus = "CREATE_COMPLETE"
	StatusCreateFailed           StackStatus = "CREATE_FAILED"
	StatusUpdateComplete         StackStatus = "UPDATE_COMPLETE"
	StatusUpdateFailed           StackStatus = "UPDATE_FAILED"
	StatusDeleteComplete         StackStatus = "DELETE_COMPLETE"
	StatusDeleteFailed           StackStatus = "DELETE_FAILED"
	StatusRollbackComplete       StackStatus = "ROLLBACK_COMPLETE"
	StatusUpdateRollbackComplete StackStatus = "UPDATE_ROLLBACK_COMPLETE"
)

// String returns the string representation of StackStatus.
func (s StackStatus) String() string {
	return string(s)
}

// Exists reports whether the stack is known to the API. A stack in
// DELETE_COMPLETE is still returned by some queries but counts as gone.
func (s StackStatus) Exists() bool {
	return s != "" && s != StatusDoesNotExist && s != StatusDeleteComplete
}

// IsComplete reports whether the status ends in _COMPLETE.
func (s StackStatus) IsComplete() bool {
	return strings.HasSuffix(string(s), "_COMPLETE")
}

// IsDeleted reports whether the status belongs to the delete family.
func (s StackStatus) IsDeleted() bool {
	return strings.HasPrefix(string(s), "DELETE")
}

// IsInProgress reports whether the stack is still transitioning.
func (s StackStatus) IsInProgress() bool {
	return strings.HasSuffix(string(s), "_IN_PROGRESS")
}

// IsFailed reports whether the status is a failure or rollback state.
// Rollbacks count as failures even when they complete, because the
// requested change was not applied.
func (s StackStatus) IsFailed() bool {
	str := string(s)
	return strings.HasSuffix(str, "_FAILED") || strings.Contains(str, "ROLLBACK")
}

// IsHealthy reports whether the stack finished a create or update and can
// be inspected for outputs and instances.
func (s StackStatus) IsHealthy() bool {
	return s.IsComplete() && !s.IsDeleted() && !s.IsFailed()
}

// StackParameters are the values the CLI passes to the template.
type StackParameters struct {
	// MyIPAddress is the CIDR allowed to reach the instance over SSH.
	MyIPAddress string `json:"myIpAddress"`

	// KeyName is the EC2 key pair name installed on the instance.
	KeyName string `json:"keyName"`
}

// Template parameter names the CLI supplies.
const (
	ParamMyIPAddress = "MyIpAddress"
	ParamKeyName     = "KeyName"
)

// AsMap returns the parameters keyed by template parameter name.
func (p StackParameters) AsMap() map[string]string {
	return map[string]string{
		ParamMyIPAddress: p.MyIPAddress,
		ParamKeyName:     p.KeyName,
	}
}

// Validate checks that both parameters are present and normalises the IP
// to CIDR notation in place.
func (p *StackParameters) Validate() error {
	if p.MyIPAddress == "" || p.KeyName == "" {
		return errors.New("--my-ip and --key-name are required for create/update actions.")
	}
	cidr, err := NormalizeCIDR(p.MyIPAddress)
	if err != nil {
		return err
	}
	p.MyIPAddress = cidr
	return nil
}

// NormalizeCIDR turns a bare address into a single-host CIDR ("/32" for IPv4,
// "/128" for IPv6). Values that already carry a prefix length are validated
// and returned in canonical form.
func NormalizeCIDR(ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", fmt.Errorf("IP address must not be empty")
	}

	if strings.Contains(ip, "/") {
		prefix, err := netip.ParsePrefix(ip)
		if err != nil {
			return "", fmt.Errorf("invalid CIDR %q: %w", ip, err)
		}
		return prefix.String(), nil
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("invalid IP address %q: %w", ip, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()).String(), nil
}

// InstanceInfo describes an EC2 instance created by the stack.
type InstanceInfo struct {
	InstanceID   string `json:"instanceId"`
	State        string `json:"state"`
	InstanceType string `json:"instanceType"`

	// PublicIP is empty while the instance has no public address.
	PublicIP string `json:"publicIp,omitempty"`

	// SSHReachable is set by the status command after probing port 22.
	// Nil means the probe was not run.
	SSHReachable *bool `json:"sshReachable,omitempty"`
}

// SSHCommand returns the ssh invocation for the instance. keyName is the
// EC2 key pair name; an empty name falls back to "your-key".
func (i InstanceInfo) SSHCommand(keyName string) string {
	if keyName == "" {
		keyName = "your-key"
	}
	host := i.PublicIP
	if host == "" {
		host = "N/A"
	}
	return fmt.Sprintf("ssh -i %s.pem ec2-user@%s", keyName, host)
}

// StackEvent is a single entry from the stack's event history.
type StackEvent struct {
	Timestamp         time.Time `json:"timestamp"`
	LogicalResourceID string    `json:"logicalResourceId"`
	ResourceType      string    `json:"resourceType"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
}

// IsFailure reports whether the event records a failed resource operation.
func (e StackEvent) IsFailure() bool {
	return strings.HasSuffix(e.Status, "_FAILED")
}

// String formats the event as a single log line.
func (e StackEvent) String() string {
	line := fmt.Sprintf("%s  %-28s %-32s %s",
		e.Timestamp.UTC().Format(time.RFC3339), e.Status, e.LogicalResourceID, e.ResourceType)
	if e.Reason != "" {
		line += "  " + e.Reason
	}
	return line
}

// StackInfo is a point-in-time description of the stack.
type StackInfo struct {
	Name         string            `json:"name"`
	Status       StackStatus       `json:"status"`
	StatusReason string            `json:"statusReason,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	Instances    []InstanceInfo    `json:"instances,omitempty"`
	Events       []StackEvent      `json:"events,omitempty"`
}
