// Package atconfig validates drone configuration settings before they are sent
// with AT*CONFIG. The set of keys is closed: anything not registered here is
// rejected, and no command is transmitted for a rejected setting.
package atconfig

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	ErrInvalidConfigKey   = errors.New("invalid config key")
	ErrInvalidConfigValue = errors.New("invalid config value")
)

// Config keys understood by the drone.
const (
	KeySessionID          = "custom:session_id"
	KeyProfileID          = "custom:profile_id"
	KeyApplicationID      = "custom:application_id"
	KeyBitrateControlMode = "video:bitrate_control_mode"
	KeyBitrate            = "video:bitrate"
	KeyMaxBitrate         = "video:max_bitrate"
	KeyVideoChannel       = "video:video_channel"
	KeyCodecFPS           = "video:codec_fps"
	KeyVideoCodec         = "video:video_codec"
	KeyNavdataDemo        = "general:navdata_demo"
	KeyAltitudeMax        = "control:altitude_max"
)

// VideoCodec is the codec id accepted by video:video_codec.
type VideoCodec int

const (
	CodecNull            VideoCodec = 0x00
	CodecUVLC            VideoCodec = 0x20
	CodecP264            VideoCodec = 0x40
	CodecMP4360p         VideoCodec = 0x80
	CodecH264360p        VideoCodec = 0x81
	CodecMP4360pH264720p VideoCodec = 0x82
	CodecH264720p        VideoCodec = 0x83
	CodecMP4360pSLRS     VideoCodec = 0x84
	CodecH264360pSLRS    VideoCodec = 0x85
	CodecH264720pSLRS    VideoCodec = 0x86
	CodecH264AutoResize  VideoCodec = 0x87 // resolution follows the bitrate
	CodecMP4360pH264360p VideoCodec = 0x88
)

var videoCodecs = []int{
	int(CodecNull), int(CodecUVLC), int(CodecP264), int(CodecMP4360p),
	int(CodecH264360p), int(CodecMP4360pH264720p), int(CodecH264720p),
	int(CodecMP4360pSLRS), int(CodecH264360pSLRS), int(CodecH264720pSLRS),
	int(CodecH264AutoResize), int(CodecMP4360pH264360p),
}

// Setting is one key/value pair destined for AT*CONFIG. Settings are kept as
// an ordered slice rather than a map so the order of transmission is the
// order the caller wrote them in.
type Setting struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

type validator func(v any) (string, error)

var registry = map[string]validator{
	KeySessionID:          checkString,
	KeyProfileID:          checkString,
	KeyApplicationID:      checkString,
	KeyBitrateControlMode: checkInt(bounded(0), bounded(1)),
	KeyBitrate:            checkInt(bounded(1), nil),
	KeyMaxBitrate:         checkInt(bounded(1), nil),
	KeyVideoChannel:       checkInt(bounded(0), bounded(1)),
	KeyCodecFPS:           checkInt(bounded(1), nil),
	KeyVideoCodec:         checkOneOf(videoCodecs),
	KeyNavdataDemo:        checkBool,
	KeyAltitudeMax:        checkInt(bounded(10), bounded(100000)),
}

// Validate checks value against the rules registered for key and returns the
// string that goes on the wire.
func Validate(key string, value any) (string, error) {
	check, ok := registry[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidConfigKey, key)
	}
	s, err := check(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

// ValidateAll validates every setting and returns the wire values in order.
// It stops at the first failure.
func ValidateAll(settings []Setting) ([]string, error) {
	out := make([]string, len(settings))
	for i, s := range settings {
		v, err := Validate(s.Key, s.Value)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Keys returns the registered keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bounded(v int64) *int64 { return &v }

func checkString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: want string, got %T", ErrInvalidConfigValue, v)
	}
	return s, nil
}

func checkBool(v any) (string, error) {
	b, ok := v.(bool)
	if !ok {
		return "", fmt.Errorf("%w: want bool, got %T", ErrInvalidConfigValue, v)
	}
	if b {
		return "TRUE", nil
	}
	return "FALSE", nil
}

func checkInt(low, high *int64) validator {
	return func(v any) (string, error) {
		n, ok := asInt(v)
		if !ok {
			return "", fmt.Errorf("%w: want integer, got %T", ErrInvalidConfigValue, v)
		}
		if low != nil && n < *low {
			return "", fmt.Errorf("%w: %d is below %d", ErrInvalidConfigValue, n, *low)
		}
		if high != nil && n > *high {
			return "", fmt.Errorf("%w: %d is above %d", ErrInvalidConfigValue, n, *high)
		}
		return strconv.FormatInt(n, 10), nil
	}
}

func checkOneOf(allowed []int) validator {
	return func(v any) (string, error) {
		n, ok := asInt(v)
		if !ok {
			return "", fmt.Errorf("%w: want integer, got %T", ErrInvalidConfigValue, v)
		}
		for _, a := range allowed {
			if int64(a) == n {
				return strconv.FormatInt(n, 10), nil
			}
		}
		return "", fmt.Errorf("%w: %#x is not a known value", ErrInvalidConfigValue, n)
	}
}

// asInt accepts Go's integer kinds (YAML decodes numbers as int). Booleans
// and floats are not integers here.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case VideoCodec:
		return int64(n), true
	}
	return 0, false
}
