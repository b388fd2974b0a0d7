package navdata

// DroneState is the 32-bit state mask from the navdata header, split into
// its named flags. Bits 14, 18 and 20 are unused.
type DroneState struct {
	Raw uint32

	Fly               bool // 0: landed / flying
	Video             bool // 1: video disabled / enabled
	Vision            bool // 2: vision disabled / enabled
	Control           bool // 3: euler angle / angular speed control
	AltitudeControl   bool // 4: altitude control inactive / active
	UserFeedbackStart bool // 5: start button state
	Command           bool // 6: control command ACK received
	FirmwareFile      bool // 7: firmware file is good
	FirmwareVersion   bool // 8: firmware update is newer
	FirmwareUpdate    bool // 9: firmware update in progress
	NavdataDemo       bool // 10: navdata demo mode
	NavdataBootstrap  bool // 11: no navdata options sent
	Motors            bool // 12: motors problem
	ComLost           bool // 13: communication lost
	VBatLow           bool // 15: battery too low
	UserEmergency     bool // 16: user emergency landing
	TimerElapsed      bool // 17
	AnglesOutOfRange  bool // 19
	Ultrasound        bool // 21: ultrasonic sensor deaf
	Cutout            bool // 22: cutout system detected
	PICVersion        bool // 23: PIC version number OK
	ATCodecThread     bool // 24
	NavdataThread     bool // 25
	VideoThread       bool // 26
	AcqThread         bool // 27
	CtrlWatchdog      bool // 28: control loop delay over 5 ms
	ADCWatchdog       bool // 29: uart2 delay over 5 ms
	ComWatchdog       bool // 30: communication watchdog problem
	Emergency         bool // 31: emergency landing
}

// DecodeState splits mask into flags.
func DecodeState(mask uint32) DroneState {
	bit := func(n uint) bool { return mask&(1<<n) != 0 }
	return DroneState{
		Raw:               mask,
		Fly:               bit(0),
		Video:             bit(1),
		Vision:            bit(2),
		Control:           bit(3),
		AltitudeControl:   bit(4),
		UserFeedbackStart: bit(5),
		Command:           bit(6),
		FirmwareFile:      bit(7),
		FirmwareVersion:   bit(8),
		FirmwareUpdate:    bit(9),
		NavdataDemo:       bit(10),
		NavdataBootstrap:  bit(11),
		Motors:            bit(12),
		ComLost:           bit(13),
		VBatLow:           bit(15),
		UserEmergency:     bit(16),
		TimerElapsed:      bit(17),
		AnglesOutOfRange:  bit(19),
		Ultrasound:        bit(21),
		Cutout:            bit(22),
		PICVersion:        bit(23),
		ATCodecThread:     bit(24),
		NavdataThread:     bit(25),
		VideoThread:       bit(26),
		AcqThread:         bit(27),
		CtrlWatchdog:      bit(28),
		ADCWatchdog:       bit(29),
		ComWatchdog:       bit(30),
		Emergency:         bit(31),
	}
}
