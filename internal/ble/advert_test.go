package ble

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAdvertisementPayload(t *testing.T) {
	adv := Advertisement{
		Name:         "NARMI000",
		ServiceUUIDs: []uint16{0x181A},
		Appearance:   768,
	}
	got, err := adv.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	want := []byte{
		0x02, 0x01, 0x06,
		0x09, 0x09, 'N', 'A', 'R', 'M', 'I', '0', '0', '0',
		0x03, 0x03, 0x1A, 0x18,
		0x03, 0x19, 0x00, 0x03,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Payload() = % x\nwant        % x", got, want)
	}
}

func TestAdvertisementPayloadOmitsEmptyFields(t *testing.T) {
	got, err := Advertisement{}.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x02, 0x01, 0x06}) {
		t.Errorf("Payload() = % x, want flags only", got)
	}
}

func TestAdvertisementPayloadTooLong(t *testing.T) {
	adv := Advertisement{Name: strings.Repeat("x", 30)}
	if _, err := adv.Payload(); err == nil {
		t.Error("Payload() should reject names that overflow a legacy advert")
	}
}

func TestEventKinds(t *testing.T) {
	events := []Event{
		ConnectEvent{}, DisconnectEvent{}, EncryptionUpdateEvent{}, PasskeyActionEvent{},
		GetSecretEvent{}, SetSecretEvent{}, IndicateDoneEvent{}, WriteEvent{},
	}
	seen := make(map[EventKind]bool)
	for _, ev := range events {
		k := ev.Kind()
		if seen[k] {
			t.Errorf("duplicate kind %v", k)
		}
		seen[k] = true
		if strings.HasPrefix(k.String(), "event(") {
			t.Errorf("kind %d has no name", int(k))
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, 30*time.Second); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestKeepAdvertisingFirstTry(t *testing.T) {
	stack := newMockStack()
	if err := KeepAdvertising(context.Background(), stack, Advertisement{Name: "NARMI000"}, time.Second); err != nil {
		t.Fatalf("KeepAdvertising() error = %v", err)
	}
	if stack.adverts != 1 {
		t.Errorf("Advertise calls = %d, want 1", stack.adverts)
	}
}

func TestKeepAdvertisingStopsOnCancel(t *testing.T) {
	stack := newMockStack()
	stack.advertErr = errors.New("controller busy")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := KeepAdvertising(ctx, stack, Advertisement{Name: "NARMI000"}, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("KeepAdvertising() error = %v, want DeadlineExceeded", err)
	}
	if stack.adverts != 1 {
		t.Errorf("Advertise calls = %d, want 1 before backoff", stack.adverts)
	}
}
