package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandSplitsAndExpands(t *testing.T) {
	c, err := NewCommand(`notify-send --urgency=critical "{title}" {body}`)
	require.NoError(t, err)

	var gotName string
	var gotArgs []string
	c.permitted = true
	c.run = func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	}

	require.NoError(t, c.Notify("Emergency Alert via Mesh", "need water at camp 2"))
	assert.Equal(t, "notify-send", gotName)
	assert.Equal(t, []string{"--urgency=critical", "Emergency Alert via Mesh", "need water at camp 2"}, gotArgs)
}

func TestCommandNotPermittedWhenBinaryMissing(t *testing.T) {
	c, err := NewCommand("definitely-not-a-real-notifier-binary {body}")
	require.NoError(t, err)
	assert.False(t, c.Permitted())
	assert.Error(t, c.Notify("t", "b"))
}

func TestNewCommandEmpty(t *testing.T) {
	_, err := NewCommand("   ")
	assert.True(t, errors.Is(err, ErrEmptyCommand))
}

func TestNop(t *testing.T) {
	n := Nop()
	assert.False(t, n.Permitted())
	assert.NoError(t, n.Notify("a", "b"))
}
