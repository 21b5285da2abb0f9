package engine

import (
	"fmt"

	"github.com/oddslab/predarb/internal/domain"
	"github.com/oddslab/predarb/internal/risk"
)

// CommandKind is the closed set of out-of-band control commands.
type CommandKind string

const (
	CmdPause        CommandKind = "pause"
	CmdResume       CommandKind = "resume"
	CmdFreeze       CommandKind = "freeze" // detect and report, never execute
	CmdSetRiskLimit CommandKind = "set_risk_limit"
)

// Command is one control-plane instruction. Limits is read only for
// CmdSetRiskLimit.
type Command struct {
	Kind   CommandKind
	Limits risk.Limits
}

// Enqueue offers a command to the engine without blocking. The queue is
// bounded; a full queue rejects the command rather than stalling the caller.
func (e *Engine) Enqueue(cmd Command) error {
	select {
	case e.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("engine: command %s dropped: %w", cmd.Kind, domain.ErrQueueFull)
	}
}

// drainCommands applies every queued command. Called between cycles only, so
// command effects never interleave with an in-flight cycle.
func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			e.apply(cmd)
		default:
			return
		}
	}
}

func (e *Engine) apply(cmd Command) {
	switch cmd.Kind {
	case CmdPause:
		e.paused = true
		e.logger.Info("engine paused")
	case CmdResume:
		e.paused = false
		e.frozen = false
		e.killAlerted = false
		e.logger.Info("engine resumed")
	case CmdFreeze:
		e.frozen = true
		e.logger.Info("engine frozen, executions disabled")
	case CmdSetRiskLimit:
		if err := e.risk.SetLimits(cmd.Limits); err != nil {
			e.logger.Warn("risk limit update rejected", "error", err)
		}
	default:
		e.logger.Warn("unknown control command", "kind", string(cmd.Kind))
	}
}
