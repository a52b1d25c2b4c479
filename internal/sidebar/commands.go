package sidebar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ppiankov/doppelcheck/internal/workflow"
)

// errDone ends an interactive session
var errDone = errors.New("done")

// Command is one parsed line of interactive input
type Command struct {
	Name string
	Args []int
}

var commandArity = map[string]int{
	"sources": 1, // find sources for keypoint N
	"check":   2, // cross-check source S of keypoint N
	"dismiss": 1,
	"close":   1, // dismiss notification I
	"toggle":  1,
	"show":    0,
	"help":    0,
	"done":    0,
}

const helpText = `commands:
  sources N     search sources for keypoint N
  check N S     cross-check source S of keypoint N
  dismiss N     remove keypoint N and its marks
  close I       close notification I
  toggle N      collapse or expand keypoint N
  show          redraw the sidebar
  done          finish and write the report`

// ParseCommand parses one input line
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}

	name := fields[0]
	if name == "quit" || name == "exit" {
		name = "done"
	}
	arity, ok := commandArity[name]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
	if len(fields)-1 != arity {
		return Command{}, fmt.Errorf("%s takes %d argument(s)", name, arity)
	}

	cmd := Command{Name: name, Args: make([]int, arity)}
	for i, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Command{}, fmt.Errorf("%s: %q is not a number", name, f)
		}
		cmd.Args[i] = n
	}
	return cmd, nil
}

// Execute runs cmd against the controller and the view. It returns
// errDone for "done".
func (v *View) Execute(ctrl *workflow.Controller, cmd Command, out io.Writer) error {
	switch cmd.Name {
	case "sources":
		return ctrl.FindSources(cmd.Args[0])
	case "check":
		return ctrl.Crosscheck(cmd.Args[0], cmd.Args[1])
	case "dismiss":
		return ctrl.Dismiss(cmd.Args[0])
	case "close":
		if err := ctrl.DismissNotification(cmd.Args[0]); err != nil {
			return err
		}
		v.DismissNotice(cmd.Args[0])
	case "toggle":
		if err := v.Toggle(cmd.Args[0]); err != nil {
			return err
		}
		fmt.Fprint(out, v.Render())
	case "show":
		fmt.Fprint(out, v.Render())
	case "help":
		fmt.Fprintln(out, helpText)
	case "done":
		return errDone
	}
	return nil
}

// Drive returns an interactive driver that reads commands from in until
// "done", end of input or cancellation.
func (v *View) Drive(in io.Reader, out io.Writer) func(context.Context, *workflow.Controller) error {
	return func(ctx context.Context, ctrl *workflow.Controller) error {
		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				select {
				case lines <- scanner.Text():
				case <-ctx.Done():
					return
				}
			}
		}()

		fmt.Fprintln(out, `type "help" for commands`)
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				cmd, err := ParseCommand(line)
				if err != nil {
					fmt.Fprintln(out, v.styles.Warning.Render(err.Error()))
					continue
				}
				err = v.Execute(ctrl, cmd, out)
				if errors.Is(err, errDone) {
					return nil
				}
				if err != nil {
					fmt.Fprintln(out, v.styles.Warning.Render(err.Error()))
				}
			}
		}
	}
}
