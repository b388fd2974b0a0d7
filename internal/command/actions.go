package command

import (
	"fmt"
	"time"

	"github.com/chronologos/ardrone/internal/atcmd"
)

// Action is a high-level drone action.
type Action int

const (
	Takeoff Action = iota
	Land
	Hover
	MoveLeft
	MoveRight
	MoveUp
	MoveDown
	MoveForward
	MoveBackward
	TurnLeft
	TurnRight
	Reset
	Trim
	Boom
	TurnAround
	YawShake
	YawDance
	ThetaMixed

	numActions
)

var actionNames = [numActions]string{
	Takeoff:      "takeoff",
	Land:         "land",
	Hover:        "hover",
	MoveLeft:     "move_left",
	MoveRight:    "move_right",
	MoveUp:       "move_up",
	MoveDown:     "move_down",
	MoveForward:  "move_forward",
	MoveBackward: "move_backward",
	TurnLeft:     "turn_left",
	TurnRight:    "turn_right",
	Reset:        "reset",
	Trim:         "trim",
	Boom:         "boom",
	TurnAround:   "turnaround",
	YawShake:     "yawshake",
	YawDance:     "yawdance",
	ThetaMixed:   "thetamixed",
}

func (a Action) String() string {
	if a < 0 || a >= numActions {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

// Actions returns every action in declaration order.
func Actions() []Action {
	out := make([]Action, numActions)
	for i := range out {
		out[i] = Action(i)
	}
	return out
}

// ParseAction maps an action name such as "move_left" to its Action.
func ParseAction(name string) (Action, error) {
	for i, n := range actionNames {
		if n == name {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// Flight animations played by the event actions.
const (
	animBoom       = 3
	animTurnaround = 6
	animYawShake   = 8
	animYawDance   = 9
	animThetaMixed = 14

	ledEvent         = 13
	ledEventFreq     = 2.0
	ledEventDuration = 4
)

// Do performs action a.
func (c *Channel) Do(a Action) error {
	s := c.Speed()
	switch a {
	case Takeoff:
		return c.sendBatch(atcmd.FTrim(), atcmd.Ref(true, false))
	case Land:
		return c.Send(atcmd.Ref(false, false))
	case Hover:
		return c.Send(atcmd.Pcmd(false, 0, 0, 0, 0))
	case MoveLeft:
		return c.Send(atcmd.Pcmd(true, -s, 0, 0, 0))
	case MoveRight:
		return c.Send(atcmd.Pcmd(true, s, 0, 0, 0))
	case MoveUp:
		return c.Send(atcmd.Pcmd(true, 0, 0, s, 0))
	case MoveDown:
		return c.Send(atcmd.Pcmd(true, 0, 0, -s, 0))
	case MoveForward:
		return c.Send(atcmd.Pcmd(true, 0, -s, 0, 0))
	case MoveBackward:
		return c.Send(atcmd.Pcmd(true, 0, s, 0, 0))
	case TurnLeft:
		return c.Send(atcmd.Pcmd(true, 0, 0, 0, -s))
	case TurnRight:
		return c.Send(atcmd.Pcmd(true, 0, 0, 0, s))
	case Reset:
		return c.reset()
	case Trim:
		return c.Send(atcmd.FTrim())
	case Boom:
		return c.event(animBoom, 1000)
	case TurnAround:
		return c.event(animTurnaround, 5000)
	case YawShake:
		return c.event(animYawShake, 2000)
	case YawDance:
		return c.event(animYawDance, 5000)
	case ThetaMixed:
		return c.event(animThetaMixed, 5000)
	}
	return fmt.Errorf("%w: %v", ErrUnknownAction, a)
}

// reset toggles the emergency latch.
func (c *Channel) reset() error {
	if err := c.Send(atcmd.FTrim()); err != nil {
		return err
	}
	time.Sleep(c.cfg.ResetDelay)
	if err := c.Send(atcmd.Ref(false, true)); err != nil {
		return err
	}
	time.Sleep(c.cfg.ResetDelay)
	return c.Send(atcmd.Ref(false, false))
}

func (c *Channel) event(anim, durationMS int) error {
	return c.sendBatch(
		atcmd.Led(ledEvent, ledEventFreq, ledEventDuration),
		atcmd.Anim(anim, durationMS),
	)
}
