package headless

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
)

type CommandListState int

const (
	COMMAND_LIST_STATE_READY CommandListState = iota
	COMMAND_LIST_STATE_RECORDING
	COMMAND_LIST_STATE_RECORDING_ENDED
	COMMAND_LIST_STATE_SUBMITTED
)

func (s CommandListState) String() string {
	switch s {
	case COMMAND_LIST_STATE_READY:
		return "ready"
	case COMMAND_LIST_STATE_RECORDING:
		return "recording"
	case COMMAND_LIST_STATE_RECORDING_ENDED:
		return "recording-ended"
	case COMMAND_LIST_STATE_SUBMITTED:
		return "submitted"
	default:
		return "unknown"
	}
}

type command struct {
	name string
	run  func() error
}

// CommandList records deferred commands that run in order on submission.
type CommandList struct {
	State    CommandListState
	commands []command
	// Fence value signaled when the last submission completes.
	submittedValue uint64
}

func NewCommandList() *CommandList {
	return &CommandList{State: COMMAND_LIST_STATE_READY}
}

func (c *CommandList) Begin() error {
	if c.State == COMMAND_LIST_STATE_RECORDING {
		err := fmt.Errorf("command list begin while already recording: %w", core.ErrCommandList)
		core.LogError(err.Error())
		return err
	}
	c.commands = c.commands[:0]
	c.State = COMMAND_LIST_STATE_RECORDING
	return nil
}

func (c *CommandList) Record(name string, run func() error) error {
	if c.State != COMMAND_LIST_STATE_RECORDING {
		err := fmt.Errorf("cannot record %s in state %s: %w", name, c.State, core.ErrCommandList)
		core.LogError(err.Error())
		return err
	}
	c.commands = append(c.commands, command{name: name, run: run})
	return nil
}

func (c *CommandList) End() error {
	if c.State != COMMAND_LIST_STATE_RECORDING {
		err := fmt.Errorf("command list end in state %s: %w", c.State, core.ErrCommandList)
		core.LogError(err.Error())
		return err
	}
	c.State = COMMAND_LIST_STATE_RECORDING_ENDED
	return nil
}

// Submit runs every recorded command. The first failing command aborts the
// submission and its error is returned.
func (c *CommandList) Submit(fenceValue uint64) error {
	if c.State != COMMAND_LIST_STATE_RECORDING_ENDED {
		err := fmt.Errorf("command list submit in state %s: %w", c.State, core.ErrCommandList)
		core.LogError(err.Error())
		return err
	}
	c.State = COMMAND_LIST_STATE_SUBMITTED
	c.submittedValue = fenceValue
	for _, cmd := range c.commands {
		if err := cmd.run(); err != nil {
			return fmt.Errorf("%s: %w", cmd.name, err)
		}
	}
	return nil
}

func (c *CommandList) Len() int {
	return len(c.commands)
}
