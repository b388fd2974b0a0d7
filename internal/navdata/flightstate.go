package navdata

import "strconv"

// FlightState is the major control state, the upper half of the demo
// option's ctrl_state.
type FlightState uint32

const (
	StateDefault FlightState = iota
	StateInit
	StateLanded
	StateFlying
	StateHovering
	StateTest
	StateTakingOff
	StateGotoFix
	StateLanding
	StateLooping
)

var flightStateNames = [...]string{
	StateDefault:   "default",
	StateInit:      "init",
	StateLanded:    "landed",
	StateFlying:    "flying",
	StateHovering:  "hovering",
	StateTest:      "test",
	StateTakingOff: "taking off",
	StateGotoFix:   "goto fix",
	StateLanding:   "landing",
	StateLooping:   "looping",
}

func (s FlightState) String() string {
	if int(s) < len(flightStateNames) {
		return flightStateNames[s]
	}
	return "FlightState(" + strconv.FormatUint(uint64(s), 10) + ")"
}
