// Package keymap decodes raw terminal input into flight console bindings.
package keymap

import "github.com/chronologos/ardrone/internal/command"

// Key is a decoded key press.
type Key int

const (
	KeyRune Key = iota // printable byte, see Event.Rune
	KeyEnter
	KeyEsc
	KeyCtrlC
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyCtrlUp
	KeyCtrlDown
	KeyCtrlLeft
	KeyCtrlRight
)

// Event is one key press.
type Event struct {
	Key  Key
	Rune byte
}

type decState int

const (
	stNone decState = iota
	stEsc           // saw ESC
	stCSI           // saw ESC [
	stSS3           // saw ESC O
)

// Decoder splits terminal input into key events. It recognises ESC [ and
// ESC O arrow sequences with an optional ";5" Ctrl modifier. Other escape
// sequences are consumed and dropped.
type Decoder struct {
	state  decState
	params []byte
}

// Feed decodes input and appends the events to dst. An ESC left pending at
// the end of input is a lone Esc key: terminals write a whole sequence in
// one read. A CSI sequence cut short stays pending for the next call.
func (d *Decoder) Feed(dst []Event, input []byte) []Event {
	for _, b := range input {
		switch d.state {
		case stNone:
			switch {
			case b == 0x1b:
				d.state = stEsc
			case b == '\r' || b == '\n':
				dst = append(dst, Event{Key: KeyEnter})
			case b == 0x03:
				dst = append(dst, Event{Key: KeyCtrlC})
			default:
				dst = append(dst, Event{Key: KeyRune, Rune: b})
			}

		case stEsc:
			switch b {
			case '[':
				d.state = stCSI
				d.params = d.params[:0]
			case 'O':
				d.state = stSS3
			case 0x1b:
				// ESC ESC: the first one was pressed alone
				dst = append(dst, Event{Key: KeyEsc})
			default:
				// Alt+key
				d.state = stNone
			}

		case stCSI:
			if b >= 0x40 && b <= 0x7e {
				if ev, ok := arrow(b, string(d.params) == "1;5"); ok {
					dst = append(dst, ev)
				}
				d.state = stNone
				continue
			}
			d.params = append(d.params, b)

		case stSS3:
			if ev, ok := arrow(b, false); ok {
				dst = append(dst, ev)
			}
			d.state = stNone
		}
	}
	if d.state == stEsc {
		dst = append(dst, Event{Key: KeyEsc})
		d.state = stNone
	}
	return dst
}

func arrow(final byte, ctrl bool) (Event, bool) {
	var plain, withCtrl Key
	switch final {
	case 'A':
		plain, withCtrl = KeyUp, KeyCtrlUp
	case 'B':
		plain, withCtrl = KeyDown, KeyCtrlDown
	case 'C':
		plain, withCtrl = KeyRight, KeyCtrlRight
	case 'D':
		plain, withCtrl = KeyLeft, KeyCtrlLeft
	default:
		return Event{}, false
	}
	if ctrl {
		return Event{Key: withCtrl}, true
	}
	return Event{Key: plain}, true
}

// Binding is what a key does in the flight console.
type Binding struct {
	Action command.Action
	Speed  float64 // set the speed instead of running Action
	Quit   bool
	Hold   bool // movement: hover when the key stops repeating
}

var keyBindings = map[Key]Binding{
	KeyEnter:     {Action: command.Takeoff},
	KeyEsc:       {Action: command.Reset},
	KeyCtrlC:     {Quit: true},
	KeyUp:        {Action: command.MoveForward, Hold: true},
	KeyDown:      {Action: command.MoveBackward, Hold: true},
	KeyLeft:      {Action: command.MoveLeft, Hold: true},
	KeyRight:     {Action: command.MoveRight, Hold: true},
	KeyCtrlUp:    {Action: command.MoveUp, Hold: true},
	KeyCtrlDown:  {Action: command.MoveDown, Hold: true},
	KeyCtrlLeft:  {Action: command.TurnLeft, Hold: true},
	KeyCtrlRight: {Action: command.TurnRight, Hold: true},
}

// Lookup returns the binding for ev. Digits 1-9 set the speed to 0.1-0.9
// and 0 sets it to 1.0.
func Lookup(ev Event) (Binding, bool) {
	if ev.Key != KeyRune {
		b, ok := keyBindings[ev.Key]
		return b, ok
	}
	switch r := ev.Rune; {
	case r == ' ':
		return Binding{Action: command.Land}, true
	case r == 'h':
		return Binding{Action: command.Hover}, true
	case r == 'q':
		return Binding{Quit: true}, true
	case r == '0':
		return Binding{Speed: 1}, true
	case r >= '1' && r <= '9':
		return Binding{Speed: float64(r-'0') / 10}, true
	}
	return Binding{}, false
}

// Help is the key summary shown by the flight console.
const Help = "enter takeoff | space land | esc reset | arrows move | ctrl+arrows up/down/turn | 1-9,0 speed | h hover | q quit"
