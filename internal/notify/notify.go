package notify

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

// Notifier raises user-facing alerts. Permitted reports whether the host
// lets us show them at all; callers skip Notify when it is false.
type Notifier interface {
	Permitted() bool
	Notify(title, body string) error
}

type nop struct{}

func (nop) Permitted() bool             { return false }
func (nop) Notify(string, string) error { return nil }

// Nop never alerts.
func Nop() Notifier { return nop{} }

var ErrEmptyCommand = errors.New("notify command is empty")

// Command runs a desktop notification command such as
// `notify-send {title} {body}`. Placeholders are substituted after the
// command line is split, so a body with spaces stays a single argument.
type Command struct {
	argv      []string
	permitted bool
	timeout   time.Duration

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func NewCommand(cmdline string) (*Command, error) {
	argv, err := shlex.Split(cmdline)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	c := &Command{
		argv:     argv,
		timeout:  5 * time.Second,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
	c.permitted = c.probe()
	return c, nil
}

func (c *Command) probe() bool {
	_, err := c.lookPath(c.argv[0])
	return err == nil
}

func (c *Command) Permitted() bool {
	return c.permitted
}

func (c *Command) Notify(title, body string) error {
	if !c.permitted {
		return errors.New("notifications not permitted: " + c.argv[0] + " not found")
	}
	args := expand(c.argv[1:], title, body)
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.run(ctx, c.argv[0], args...)
}

func expand(args []string, title, body string) []string {
	r := strings.NewReplacer("{title}", title, "{body}", body)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
