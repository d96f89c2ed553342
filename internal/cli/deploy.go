// deploy.go implements the "t4dev deploy" command.
//
// The deploy command drives the lifecycle of the development stack:
//
//	create  submit the template; the stack must not exist yet
//	update  submit the template to an existing stack
//	delete  remove the stack, asking first unless --force is given
//	status  print status, outputs and instance details
//
// create and update need --my-ip and --key-name, which become the
// MyIpAddress and KeyName template parameters.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/t4dev/internal/config"
	"github.com/mmr-tortoise/t4dev/internal/model"
	"github.com/mmr-tortoise/t4dev/internal/reach"
	"github.com/mmr-tortoise/t4dev/internal/stack"
	"github.com/mmr-tortoise/t4dev/internal/template"
)

// deployFlags holds the flag values that are not resolved through config.
type deployFlags struct {
	action     string
	force      bool
	events     int
	skipSSH    bool
	sshTimeout time.Duration
}

// deployDeps are the external collaborators of the deploy command.
// Tests replace them with fakes.
type deployDeps struct {
	connect func(ctx context.Context, region, profile string) (*stack.Clients, error)
	probe   func(ctx context.Context, host string, port int, timeout time.Duration) bool
	stdin   io.Reader
}

func defaultDeployDeps() deployDeps {
	return deployDeps{
		connect: stack.Connect,
		probe:   reach.Probe,
		stdin:   os.Stdin,
	}
}

// NewDeployCommand creates the "deploy" cobra command.
func NewDeployCommand() *cobra.Command {
	return newDeployCommand(defaultDeployDeps())
}

func newDeployCommand(deps deployDeps) *cobra.Command {
	flags := &deployFlags{}

	cmd := &cobra.Command{
		Use:   "deploy --action {create|update|delete|status}",
		Short: "Create, update, delete or inspect the GPU development stack",
		Long: `Manage the CloudFormation stack of the T4 GPU development environment.

Settings can also come from T4DEV_* environment variables or a YAML config
file (--config, or ./.t4dev.yaml). Flags win over the environment, which
wins over the file.

Examples:
  t4dev deploy --action create --my-ip 203.0.113.7 --key-name dev-key
  t4dev deploy --action update --my-ip 203.0.113.7 --key-name dev-key
  t4dev deploy --action status
  t4dev deploy --action delete --force`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDeployConfig(cmd)
			if err != nil {
				return err
			}
			return runDeploy(cmd, cfg, flags, deps)
		},
	}

	cmd.Flags().StringVar(&flags.action, "action", "",
		"Action to perform on the stack: create, update, delete, status")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Delete without confirmation")
	cmd.Flags().IntVar(&flags.events, "events", 0, "Number of recent stack events to show with status")
	cmd.Flags().BoolVar(&flags.skipSSH, "skip-ssh-check", false, "Do not probe the SSH port of stack instances")
	cmd.Flags().DurationVar(&flags.sshTimeout, "ssh-timeout", reach.DefaultTimeout, "Timeout for the SSH port probe")

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// loadDeployConfig layers defaults, the config file, T4DEV_* variables and
// explicitly set flags.
func loadDeployConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	if err := config.ReadFile(v, configPath); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidArgs, "invalid configuration", err)
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "invalid configuration", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidArgs, "invalid configuration", err)
	}
	return cfg, nil
}

// runDeploy is the main logic function for the deploy command.
func runDeploy(cmd *cobra.Command, cfg *config.Config, flags *deployFlags, deps deployDeps) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	msg := messageWriter(cmd)

	// Step 1: Validate the action before touching the API.
	if flags.action == "" {
		return model.NewCLIError(model.ExitInvalidArgs, "--action is required (create, update, delete, status)")
	}
	action, err := model.ParseAction(flags.action)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidArgs, "invalid --action", err)
	}

	// Step 2: Connect and read the current status.
	clients, err := deps.connect(ctx, cfg.Region, cfg.Profile)
	if err != nil {
		return err
	}
	m := stack.NewManager(clients.CloudFormation, clients.EC2, cfg.StackName,
		stack.WithPollInterval(cfg.PollInterval),
		stack.WithProgress(msg),
	)

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	// Step 3: Dispatch.
	switch action {
	case model.ActionStatus:
		return printStackInfo(ctx, cmd, m, cfg, flags, deps)

	case model.ActionDelete:
		if !status.Exists() {
			fmt.Fprintf(msg, "Stack %s does not exist.\n", cfg.StackName)
			if IsJSONOutput() {
				return printJSON(out, &model.StackInfo{Name: cfg.StackName, Status: model.StatusDoesNotExist})
			}
			return nil
		}
		if !flags.force {
			confirmed, err := promptConfirmation(msg, deps.stdin, cfg.StackName, status)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to read user input", err)
			}
			if !confirmed {
				return model.NewCLIError(model.ExitUserCancelled, "operation cancelled by user")
			}
		}

		fmt.Fprintf(msg, "%s stack %s...\n", action.Gerund(), cfg.StackName)
		if err := m.Delete(ctx, cfg.Timeout); err != nil {
			printFailureEvents(msg, err)
			return err
		}
		fmt.Fprintf(msg, "Stack %s %s successfully.\n", cfg.StackName, action.PastTense())
		if IsJSONOutput() {
			return printJSON(out, &model.StackInfo{Name: cfg.StackName, Status: model.StatusDeleteComplete})
		}
		return nil
	}

	// create / update
	if action == model.ActionCreate && status.Exists() {
		return model.NewCLIError(model.ExitStackPrecondition,
			fmt.Sprintf("Stack %s already exists. Use --action update to update it.", cfg.StackName))
	}
	if action == model.ActionUpdate && !status.Exists() {
		return model.NewCLIError(model.ExitStackPrecondition,
			fmt.Sprintf("Stack %s does not exist. Use --action create to create it.", cfg.StackName))
	}

	params := model.StackParameters{MyIPAddress: cfg.MyIP, KeyName: cfg.KeyName}
	if err := params.Validate(); err != nil {
		return model.NewCLIError(model.ExitInvalidArgs, err.Error())
	}

	tmpl, err := template.Read(cfg.TemplatePath)
	if err != nil {
		return err
	}
	if err := tmpl.RequireParameters(model.ParamMyIPAddress, model.ParamKeyName); err != nil {
		return err
	}

	fmt.Fprintf(msg, "%s stack %s...\n", action.Gerund(), cfg.StackName)

	if action == model.ActionCreate {
		err = m.Create(ctx, tmpl.Body, params.AsMap(), cfg.Timeout)
	} else {
		err = m.Update(ctx, tmpl.Body, params.AsMap(), cfg.Timeout)
		if errors.Is(err, stack.ErrNoUpdates) {
			fmt.Fprintln(msg, "No updates required for the stack.")
			err = nil
		}
	}
	if err != nil {
		printFailureEvents(msg, err)
		return err
	}

	fmt.Fprintf(msg, "Stack %s %s successfully.\n", cfg.StackName, action.PastTense())
	return printStackInfo(ctx, cmd, m, cfg, flags, deps)
}

// promptConfirmation asks the user to confirm the delete. It reads a single
// line from in and accepts "y" or "yes".
func promptConfirmation(w io.Writer, in io.Reader, stackName string, status model.StackStatus) (bool, error) {
	fmt.Fprintf(w, "About to delete stack %s (status: %s).\n", stackName, status)
	fmt.Fprintln(w, "  - all resources created by the stack, including the instance, will be removed")
	fmt.Fprint(w, "\nContinue? [y/N] ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
	// EOF counts as "no".
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return false, nil
}

// printFailureEvents prints the failed resource events attached to err.
func printFailureEvents(w io.Writer, err error) {
	failed, ok := stack.AsFailedError(err)
	if !ok || len(failed.Events) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent failure events:")
	for _, e := range failed.Events {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// printStackInfo describes the stack, probes SSH on running instances and
// prints the result.
func printStackInfo(ctx context.Context, cmd *cobra.Command, m *stack.Manager, cfg *config.Config, flags *deployFlags, deps deployDeps) error {
	info, err := m.Describe(ctx, flags.events)
	if err != nil {
		return err
	}

	if !flags.skipSSH {
		for i := range info.Instances {
			inst := &info.Instances[i]
			if inst.PublicIP == "" || inst.State != "running" {
				continue
			}
			ok := deps.probe(ctx, inst.PublicIP, reach.SSHPort, flags.sshTimeout)
			inst.SSHReachable = &ok
		}
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), info)
	}
	printStackInfoText(cmd.OutOrStdout(), info, cfg.KeyName)
	return nil
}

// printStackInfoText outputs the stack description as human-readable text.
func printStackInfoText(w io.Writer, info *model.StackInfo, keyName string) {
	if !info.Status.Exists() {
		fmt.Fprintf(w, "Stack %s does not exist.\n", info.Name)
		return
	}

	fmt.Fprintf(w, "Stack %s status: %s\n", info.Name, info.Status)
	if info.StatusReason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", info.StatusReason)
	}

	if len(info.Outputs) > 0 {
		fmt.Fprintln(w, "\nStack Outputs:")
		keys := make([]string, 0, len(info.Outputs))
		for k := range info.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, info.Outputs[k])
		}
	}

	if len(info.Instances) > 0 {
		fmt.Fprintln(w, "\nInstance Info:")
		for _, inst := range info.Instances {
			fmt.Fprintf(w, "  Instance ID: %s\n", inst.InstanceID)
			fmt.Fprintf(w, "  State: %s\n", inst.State)
			fmt.Fprintf(w, "  Instance Type: %s\n", inst.InstanceType)
			if inst.PublicIP != "" {
				fmt.Fprintf(w, "  Public IP: %s\n", inst.PublicIP)
			}
			if inst.SSHReachable != nil {
				fmt.Fprintf(w, "  SSH Port: %s\n", formatReachable(*inst.SSHReachable))
			}
			fmt.Fprintf(w, "  SSH Command: %s\n", inst.SSHCommand(keyName))
		}
	}

	if len(info.Events) > 0 {
		fmt.Fprintln(w, "\nRecent Events:")
		for _, e := range info.Events {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

// formatReachable renders the SSH probe result.
func formatReachable(ok bool) string {
	if ok {
		return "reachable"
	}
	return "unreachable (check --my-ip and the security group)"
}
