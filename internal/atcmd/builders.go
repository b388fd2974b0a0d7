package atcmd

// refBase is the constant part of every REF argument (bits 18, 20, 22, 24
// and 28 set).
const refBase = 0b10001010101000000000000000000

const (
	refTakeoff   = 1 << 9
	refEmergency = 1 << 8
)

// RefFlags computes the REF argument for the given flags.
func RefFlags(takeoff, emergency bool) int {
	v := refBase
	if takeoff {
		v |= refTakeoff
	}
	if emergency {
		v |= refEmergency
	}
	return v
}

// Ref controls takeoff, landing and the emergency latch.
func Ref(takeoff, emergency bool) Command {
	return New(REF, Int(RefFlags(takeoff, emergency)))
}

// Pcmd moves the drone. With progressive false the drone hovers and the
// other arguments are ignored. lr, fb, vv and va are fractions of the
// configured maximums in [-1, 1].
func Pcmd(progressive bool, lr, fb, vv, va float64) Command {
	flag := 0
	if progressive {
		flag = 1
	}
	return New(PCMD, Int(flag), Float(lr), Float(fb), Float(vv), Float(va))
}

// FTrim tells the drone it is lying horizontally.
func FTrim() Command { return New(FTRIM) }

// Zap selects the video stream.
func Zap(stream int) Command { return New(ZAP, Int(stream)) }

// Config sets a configuration key to an already validated wire value.
func Config(key, value string) Command {
	return New(CONFIG, String(key), String(value))
}

// ConfigIDs identifies the session, user and application a following CONFIG
// applies to.
func ConfigIDs(session, user, application string) Command {
	return New(CONFIG_IDS, String(session), String(user), String(application))
}

// Ctrl sets the control mode.
func Ctrl(mode int) Command { return New(CTRL, Int(mode), Int(0)) }

// ComWdg resets the drone's communication watchdog.
func ComWdg() Command { return New(COMWDG) }

// AFlight enables or disables autonomous flight.
func AFlight(enable bool) Command {
	flag := 0
	if enable {
		flag = 1
	}
	return New(AFLIGHT, Int(flag))
}

// Led plays an LED animation at freq Hz for duration seconds.
func Led(anim int, freq float64, duration int) Command {
	return New(LED, Int(anim), Float(freq), Int(duration))
}

// Anim plays a flight animation for duration milliseconds.
func Anim(anim, duration int) Command {
	return New(ANIM, Int(anim), Int(duration))
}
