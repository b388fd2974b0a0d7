// Package atcmd models the drone's AT command set and its text wire format.
//
// A command is one datagram:
//
//	AT*<NAME>=<seq>[,<param>]*\r
//
// Integers are written in decimal, floats as the decimal value of their
// IEEE-754 single-precision bit pattern read as a signed 32-bit integer, and
// strings as double-quoted literals.
package atcmd

import (
	"fmt"
	"math"
	"strconv"
)

// Mnemonic names a command in the closed AT command set.
type Mnemonic int

const (
	REF Mnemonic = iota
	PCMD
	FTRIM
	ZAP
	CONFIG
	CONFIG_IDS
	CTRL
	COMWDG
	AFLIGHT
	LED
	ANIM
)

var mnemonicNames = [...]string{
	REF:        "REF",
	PCMD:       "PCMD",
	FTRIM:      "FTRIM",
	ZAP:        "ZAP",
	CONFIG:     "CONFIG",
	CONFIG_IDS: "CONFIG_IDS",
	CTRL:       "CTRL",
	COMWDG:     "COMWDG",
	AFLIGHT:    "AFLIGHT",
	LED:        "LED",
	ANIM:       "ANIM",
}

func (m Mnemonic) String() string {
	if m < 0 || int(m) >= len(mnemonicNames) {
		return "Mnemonic(" + strconv.Itoa(int(m)) + ")"
	}
	return mnemonicNames[m]
}

// paramKind tags the representation of a Param.
type paramKind uint8

const (
	kindInt paramKind = iota
	kindFloat
	kindString
)

// Param is a single typed command argument.
type Param struct {
	kind paramKind
	i    int64
	f    float32
	s    string
}

// Int returns an integer parameter.
func Int(v int) Param { return Param{kind: kindInt, i: int64(v)} }

// Float returns a float parameter, sent as its raw IEEE-754 bit pattern.
func Float(v float64) Param { return Param{kind: kindFloat, f: float32(v)} }

// String returns a quoted string parameter.
func String(v string) Param { return Param{kind: kindString, s: v} }

// Command is an immutable AT command without its sequence number, which the
// command channel assigns at send time.
type Command struct {
	name   Mnemonic
	params []Param
}

// New builds a command. The params slice is copied.
func New(name Mnemonic, params ...Param) Command {
	p := make([]Param, len(params))
	copy(p, params)
	return Command{name: name, params: p}
}

// Name returns the command mnemonic.
func (c Command) Name() Mnemonic { return c.name }

// Params returns a copy of the command's parameters.
func (c Command) Params() []Param {
	p := make([]Param, len(c.params))
	copy(p, c.params)
	return p
}

// Encode serializes the command with the given sequence number.
func (c Command) Encode(seq uint32) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, "AT*"...)
	buf = append(buf, c.name.String()...)
	buf = append(buf, '=')
	buf = strconv.AppendUint(buf, uint64(seq), 10)
	for _, p := range c.params {
		buf = append(buf, ',')
		switch p.kind {
		case kindInt:
			buf = strconv.AppendInt(buf, p.i, 10)
		case kindFloat:
			buf = strconv.AppendInt(buf, int64(FloatBits(p.f)), 10)
		case kindString:
			buf = append(buf, '"')
			buf = append(buf, p.s...)
			buf = append(buf, '"')
		}
	}
	return append(buf, '\r')
}

func (c Command) String() string {
	return fmt.Sprintf("%s%v", c.name, c.params)
}

func (p Param) String() string {
	switch p.kind {
	case kindFloat:
		return strconv.FormatFloat(float64(p.f), 'g', -1, 32)
	case kindString:
		return strconv.Quote(p.s)
	default:
		return strconv.FormatInt(p.i, 10)
	}
}

// FloatBits reinterprets f's IEEE-754 bit pattern as a signed integer.
func FloatBits(f float32) int32 {
	return int32(math.Float32bits(f))
}

// BitsFloat is the inverse of FloatBits.
func BitsFloat(i int32) float32 {
	return math.Float32frombits(uint32(i))
}
