package gatt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoders round to the nearest unit and clamp to the field width, so a
// calibrated humidity of -0.3 %RH encodes as 0 instead of wrapping.

// EncodeTemperature encodes degrees Celsius as int16 hundredths.
func EncodeTemperature(celsius float64) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(int16(scale(celsius, 100, math.MinInt16, math.MaxInt16))))
	return b
}

// DecodeTemperature is the inverse of EncodeTemperature.
func DecodeTemperature(b []byte) (float64, error) {
	if err := need(b, 2, RoleTemperature); err != nil {
		return 0, err
	}
	return float64(int16(binary.LittleEndian.Uint16(b))) / 100, nil
}

// EncodeHumidity encodes relative humidity as uint16 hundredths of a percent.
func EncodeHumidity(percent float64) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(scale(percent, 100, 0, math.MaxUint16)))
	return b
}

func DecodeHumidity(b []byte) (float64, error) {
	if err := need(b, 2, RoleHumidity); err != nil {
		return 0, err
	}
	return float64(binary.LittleEndian.Uint16(b)) / 100, nil
}

// EncodeDistance encodes a distance in centimetres as uint16 millimetres.
func EncodeDistance(cm float64) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(scale(cm, 10, 0, math.MaxUint16)))
	return b
}

// DecodeDistance returns centimetres.
func DecodeDistance(b []byte) (float64, error) {
	if err := need(b, 2, RoleDistance); err != nil {
		return 0, err
	}
	return float64(binary.LittleEndian.Uint16(b)) / 10, nil
}

// EncodeInterval encodes the polling interval in milliseconds as uint32.
func EncodeInterval(ms uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, ms)
	return b
}

func DecodeInterval(b []byte) (uint32, error) {
	if err := need(b, 4, RoleInterval); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// EncodeBatteryLevel encodes state of charge as a uint8 in 0..100.
func EncodeBatteryLevel(percent float64) []byte {
	return []byte{uint8(scale(percent, 1, 0, 100))}
}

func DecodeBatteryLevel(b []byte) (float64, error) {
	if err := need(b, 1, RoleBatteryLevel); err != nil {
		return 0, err
	}
	return float64(b[0]), nil
}

// EncodeBatteryVoltage encodes volts as uint16 millivolts.
func EncodeBatteryVoltage(volts float64) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(scale(volts, 1000, 0, math.MaxUint16)))
	return b
}

// DecodeBatteryVoltage returns volts.
func DecodeBatteryVoltage(b []byte) (float64, error) {
	if err := need(b, 2, RoleBatteryVoltage); err != nil {
		return 0, err
	}
	return float64(binary.LittleEndian.Uint16(b)) / 1000, nil
}

// EncodeCalibration encodes temperature and humidity offsets as two int16
// hundredths, temperature first.
func EncodeCalibration(temp, humidity float64) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], uint16(int16(scale(temp, 100, math.MinInt16, math.MaxInt16))))
	binary.LittleEndian.PutUint16(b[2:4], uint16(int16(scale(humidity, 100, math.MinInt16, math.MaxInt16))))
	return b
}

// DecodeCalibration decodes a calibration write. Exactly four bytes are
// accepted.
func DecodeCalibration(b []byte) (temp, humidity float64, err error) {
	if len(b) != 4 {
		return 0, 0, fmt.Errorf("gatt: %s value must be 4 bytes, got %d", RoleCalibration, len(b))
	}
	temp = float64(int16(binary.LittleEndian.Uint16(b[0:2]))) / 100
	humidity = float64(int16(binary.LittleEndian.Uint16(b[2:4]))) / 100
	return temp, humidity, nil
}

func scale(v, factor, lo, hi float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v * factor)
	if r < lo {
		r = lo
	}
	if r > hi {
		r = hi
	}
	return int64(r)
}

func need(b []byte, n int, r Role) error {
	if len(b) < n {
		return fmt.Errorf("gatt: %s value must be %d bytes, got %d", r, n, len(b))
	}
	return nil
}
