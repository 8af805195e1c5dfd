package ble

import (
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/clock"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

func newTestIndicator() (*Indicator, *mockStack, *clock.Manual) {
	stack := newMockStack()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	return NewIndicator(stack, clk), stack, clk
}

func TestSendWriteOnly(t *testing.T) {
	ind, stack, _ := newTestIndicator()

	if err := ind.Send(1, 10, []byte{0x01, 0x02}, ModeWrite); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := stack.values[10]; len(got) != 2 || got[0] != 0x01 {
		t.Errorf("stored value = %x, want 0102", got)
	}
	if len(stack.notifies) != 0 || len(stack.indications) != 0 {
		t.Errorf("write-only Send pushed %d notifies, %d indications", len(stack.notifies), len(stack.indications))
	}
}

func TestSendBoth(t *testing.T) {
	ind, stack, _ := newTestIndicator()

	if err := ind.Send(1, 10, []byte{0x01}, ModeBoth); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(stack.notifies) != 1 || len(stack.indications) != 1 {
		t.Errorf("got %d notifies, %d indications; want 1, 1", len(stack.notifies), len(stack.indications))
	}
}

func TestSecondIndicationRefusedUntilConfirmed(t *testing.T) {
	ind, stack, clk := newTestIndicator()

	if err := ind.Send(1, 10, []byte{0x01}, ModeIndicate); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	err := ind.Send(1, 10, []byte{0x02}, ModeIndicate)
	if !errors.Is(err, ErrIndicationPending) {
		t.Fatalf("second Send() error = %v, want ErrIndicationPending", err)
	}
	if len(stack.indications) != 1 {
		t.Errorf("indications = %d, want 1", len(stack.indications))
	}
	if got := stack.values[10]; got[0] != 0x02 {
		t.Errorf("value not updated on refused indication: %x", got)
	}

	// A different characteristic on the same connection is independent.
	if err := ind.Send(1, 11, []byte{0x03}, ModeIndicate); err != nil {
		t.Errorf("Send() other attr error = %v", err)
	}

	clk.Advance(30 * time.Millisecond)
	age, ok := ind.Confirm(1, 10, 0)
	if !ok || age != 30*time.Millisecond {
		t.Errorf("Confirm() = %v, %v; want 30ms, true", age, ok)
	}
	if err := ind.Send(1, 10, []byte{0x04}, ModeIndicate); err != nil {
		t.Errorf("Send() after confirm error = %v", err)
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	ind, _, _ := newTestIndicator()
	if _, ok := ind.Confirm(3, 10, 0); ok {
		t.Error("Confirm() without pending indication reported ok")
	}
}

func TestFailedStatusStillClearsRecord(t *testing.T) {
	ind, _, _ := newTestIndicator()
	_ = ind.Send(1, 10, []byte{0x01}, ModeIndicate)

	if _, ok := ind.Confirm(1, 10, 0x0e); !ok {
		t.Fatal("Confirm() with failure status reported no pending record")
	}
	if _, pending := ind.Pending(1, 10); pending {
		t.Error("record still pending after failed confirmation")
	}
}

func TestIndicateErrorClearsRecord(t *testing.T) {
	ind, stack, _ := newTestIndicator()
	stack.indicateErr = errors.New("link lost")

	if err := ind.Send(1, 10, []byte{0x01}, ModeIndicate); err == nil {
		t.Fatal("Send() should fail when the stack rejects the indication")
	}
	if _, pending := ind.Pending(1, 10); pending {
		t.Error("record kept after stack error")
	}
}

func TestSynchronousConfirm(t *testing.T) {
	ind, stack, _ := newTestIndicator()
	stack.confirm = func(conn gatt.ConnHandle, attr gatt.Handle) {
		ind.Confirm(conn, attr, 0)
	}

	for i := 0; i < 3; i++ {
		if err := ind.Send(1, 10, []byte{byte(i)}, ModeIndicate); err != nil {
			t.Fatalf("Send() #%d error = %v", i, err)
		}
	}
	if len(stack.indications) != 3 {
		t.Errorf("indications = %d, want 3", len(stack.indications))
	}
}

func TestDropClearsOnlyThatConnection(t *testing.T) {
	ind, _, _ := newTestIndicator()
	_ = ind.Send(1, 10, []byte{0x01}, ModeIndicate)
	_ = ind.Send(1, 11, []byte{0x01}, ModeIndicate)
	_ = ind.Send(2, 10, []byte{0x01}, ModeIndicate)

	if n := ind.Drop(1); n != 2 {
		t.Errorf("Drop(1) = %d, want 2", n)
	}
	if _, pending := ind.Pending(2, 10); !pending {
		t.Error("Drop(1) cleared connection 2")
	}
	ind.Open(1)
	if err := ind.Send(1, 10, []byte{0x02}, ModeIndicate); err != nil {
		t.Errorf("Send() after Open error = %v", err)
	}
}

func TestSendAfterDropRefusedUntilOpen(t *testing.T) {
	ind, stack, _ := newTestIndicator()
	ind.Drop(1)

	for _, mode := range []Mode{ModeNotify, ModeIndicate, ModeBoth} {
		if err := ind.Send(1, 10, []byte{0x07}, mode); !errors.Is(err, ErrConnClosed) {
			t.Errorf("Send(mode %d) after Drop error = %v, want ErrConnClosed", mode, err)
		}
	}
	if _, pending := ind.Pending(1, 10); pending {
		t.Error("closed connection left a pending record")
	}
	if len(stack.notifies) != 0 || len(stack.indications) != 0 {
		t.Errorf("closed connection got %d notifies, %d indications", len(stack.notifies), len(stack.indications))
	}
	if got := stack.values[10]; len(got) != 1 || got[0] != 0x07 {
		t.Errorf("stored value = %x, want 07", got)
	}
	if err := ind.Send(1, 10, nil, ModeWrite); err != nil {
		t.Errorf("write-only Send() to closed connection error = %v", err)
	}
	if err := ind.Send(2, 10, []byte{0x08}, ModeIndicate); err != nil {
		t.Errorf("Send() to another connection error = %v", err)
	}

	ind.Open(1)
	if err := ind.Send(1, 10, []byte{0x09}, ModeIndicate); err != nil {
		t.Errorf("Send() after Open error = %v", err)
	}
}
