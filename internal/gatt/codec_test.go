package gatt

import (
	"bytes"
	"testing"
)

func TestEncodeTemperatureScaling(t *testing.T) {
	got := EncodeTemperature(23.45)
	want := []byte{0x29, 0x09} // 2345
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeTemperature(23.45) = % X, want % X", got, want)
	}
}

func TestCodecsDecodeLastSetValue(t *testing.T) {
	tests := []struct {
		name   string
		encode func() []byte
		decode func([]byte) (float64, error)
		want   float64
	}{
		{"temperature", func() []byte { return EncodeTemperature(23.45) }, DecodeTemperature, 23.45},
		{"negative temperature", func() []byte { return EncodeTemperature(-5.5) }, DecodeTemperature, -5.5},
		{"humidity", func() []byte { return EncodeHumidity(45.67) }, DecodeHumidity, 45.67},
		{"distance", func() []byte { return EncodeDistance(12.3) }, DecodeDistance, 12.3},
		{"battery level rounds", func() []byte { return EncodeBatteryLevel(87.6) }, DecodeBatteryLevel, 88},
		{"battery voltage", func() []byte { return EncodeBatteryVoltage(3.7) }, DecodeBatteryVoltage, 3.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.decode(tt.encode())
			if err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if got != tt.want {
				t.Errorf("decoded = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodersClamp(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"humidity below zero", EncodeHumidity(-0.3), []byte{0x00, 0x00}},
		{"battery over 100", EncodeBatteryLevel(120), []byte{100}},
		{"battery below 0", EncodeBatteryLevel(-3), []byte{0}},
		{"temperature overflow", EncodeTemperature(400), []byte{0xFF, 0x7F}},
		{"distance negative", EncodeDistance(-1), []byte{0x00, 0x00}},
	}
	for _, tt := range tests {
		if !bytes.Equal(tt.got, tt.want) {
			t.Errorf("%s: got % X, want % X", tt.name, tt.got, tt.want)
		}
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	b := EncodeInterval(65000)
	if len(b) != 4 {
		t.Fatalf("len = %d, want 4", len(b))
	}
	got, err := DecodeInterval(b)
	if err != nil {
		t.Fatalf("DecodeInterval() error = %v", err)
	}
	if got != 65000 {
		t.Errorf("DecodeInterval() = %d, want 65000", got)
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	temp, hum, err := DecodeCalibration(EncodeCalibration(0.5, -1.25))
	if err != nil {
		t.Fatalf("DecodeCalibration() error = %v", err)
	}
	if temp != 0.5 || hum != -1.25 {
		t.Errorf("DecodeCalibration() = (%v, %v), want (0.5, -1.25)", temp, hum)
	}
}

func TestDecodeShortValues(t *testing.T) {
	if _, err := DecodeTemperature([]byte{0x01}); err == nil {
		t.Error("DecodeTemperature(1 byte) should fail")
	}
	if _, err := DecodeInterval([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeInterval(3 bytes) should fail")
	}
	if _, _, err := DecodeCalibration([]byte{1, 2, 3, 4, 5}); err == nil {
		t.Error("DecodeCalibration(5 bytes) should fail")
	}
	if _, err := DecodeBatteryLevel(nil); err == nil {
		t.Error("DecodeBatteryLevel(nil) should fail")
	}
}
