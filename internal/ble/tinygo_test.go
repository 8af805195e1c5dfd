package ble

import (
	"testing"

	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

func TestTinyGoWriteAttribution(t *testing.T) {
	s := NewTinyGoStack()

	if _, exact := s.writeConn(); exact {
		t.Error("writeConn() with no centrals reported exact")
	}

	a := s.connFor("AA:AA")
	if conn, exact := s.writeConn(); conn != a || !exact {
		t.Errorf("writeConn() = %d, %v; want %d, true", conn, exact, a)
	}

	b := s.connFor("BB:BB")
	if conn, exact := s.writeConn(); conn != b || exact {
		t.Errorf("writeConn() with two centrals = %d, %v; want %d, false", conn, exact, b)
	}

	// The most recent central leaving must not leave writes pinned to it.
	if conn, ok := s.dropConn("BB:BB"); !ok || conn != b {
		t.Fatalf("dropConn() = %d, %v; want %d, true", conn, ok, b)
	}
	if conn, exact := s.writeConn(); conn != a || !exact {
		t.Errorf("writeConn() after drop = %d, %v; want %d, true", conn, exact, a)
	}

	if _, ok := s.dropConn("CC:CC"); ok {
		t.Error("dropConn() of unknown address reported ok")
	}
	s.dropConn("AA:AA")
	if conn, _ := s.writeConn(); conn != gatt.ConnHandle(0) {
		t.Errorf("writeConn() with none left = %d, want 0", conn)
	}
}

func TestTinyGoConnHandlesStablePerAddress(t *testing.T) {
	s := NewTinyGoStack()
	a := s.connFor("AA:AA")
	if again := s.connFor("AA:AA"); again != a {
		t.Errorf("connFor() repeat = %d, want %d", again, a)
	}
	if b := s.connFor("BB:BB"); b == a {
		t.Errorf("connFor() gave two addresses handle %d", a)
	}
}
