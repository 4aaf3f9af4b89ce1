package retry

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandDo(t *testing.T) {
	var stdout bytes.Buffer
	err := Command("sh", "-c", "echo hello").WithStdout(&stdout).Do(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stdout.String())
}

func TestCommandDoWithErrorHandling(t *testing.T) {
	handled := false
	err := Command("sh", "-c", "echo oops >&2; exit 3").DoWithErrorHandling(context.Background(),
		func(err error, _, stderr *bytes.Buffer) error {
			handled = true
			if strings.Contains(stderr.String(), "oops") {
				return nil // tolerated
			}
			return fmt.Errorf("unexpected failure: %w", err)
		})
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestRunnerReturnsStdout(t *testing.T) {
	out, err := Runner{}.Run(context.Background(), "sh", "-c", "echo one two")
	require.NoError(t, err)
	assert.Equal(t, "one two\n", out)
}

func TestRunnerFailureIncludesStderr(t *testing.T) {
	_, err := Runner{}.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "exit status 1")
}
