package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/t4dev/internal/model"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ExitCode
	}{
		{"nil", nil, model.ExitSuccess},
		{"plain error", errors.New("boom"), model.ExitGeneralError},
		{"cli error", model.NewCLIError(model.ExitTemplateError, "bad template"), model.ExitTemplateError},
		{"wrapped cli error", fmt.Errorf("outer: %w", model.NewCLIError(model.ExitStackPrecondition, "exists")), model.ExitStackPrecondition},
		{"cancelled", context.Canceled, model.ExitUserCancelled},
		{"cancelled inside api error", model.WrapCLIError(model.ExitAPIError, "Error waiting for stack", context.Canceled), model.ExitUserCancelled},
		{"timeout keeps its code", model.WrapCLIError(model.ExitTimeout, "timed out", context.Canceled), model.ExitTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestPrintError(t *testing.T) {
	t.Cleanup(func() { jsonOutput = false })

	t.Run("text", func(t *testing.T) {
		jsonOutput = false
		var buf bytes.Buffer
		printError(&buf, "Error create stack", errors.New("AccessDenied"))
		assert.Equal(t, "Error: Error create stack: AccessDenied\n", buf.String())

		buf.Reset()
		printError(&buf, "operation cancelled by user", nil)
		assert.Equal(t, "Error: operation cancelled by user\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		jsonOutput = true
		var buf bytes.Buffer
		printError(&buf, "Error create stack", errors.New("AccessDenied"))

		var got map[string]map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "Error create stack", got["error"]["message"])
		assert.Equal(t, "AccessDenied", got["error"]["detail"])
	})
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"deploy", "gpu-check", "dequant"})

	for _, name := range []string{"json", "verbose", "config"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
}

func TestRootCommand_UnknownFlag(t *testing.T) {
	_, _, err := execute(t, NewDequantCommand(), "dequant", "--no-such-flag")
	require.Error(t, err)
	assert.Equal(t, model.ExitInvalidArgs, exitCode(err))
}
