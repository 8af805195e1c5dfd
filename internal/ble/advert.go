package ble

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/clock"
)

// AD structure types (Bluetooth Core Supplement, part A).
const (
	adTypeFlags           = 0x01
	adTypeUUID16Complete  = 0x03
	adTypeCompleteName    = 0x09
	adTypeAppearance      = 0x19
	adFlagsGeneralNoBREDR = 0x06

	maxLegacyAdvLen = 31
)

// Advertisement describes the connectable advertising set.
type Advertisement struct {
	Name         string
	ServiceUUIDs []uint16
	Appearance   uint16
	Interval     time.Duration
}

// Payload encodes the advertisement as legacy AD structures: flags,
// complete local name, complete 16-bit service UUID list, appearance.
func (a Advertisement) Payload() ([]byte, error) {
	var buf []byte
	buf = appendAD(buf, adTypeFlags, []byte{adFlagsGeneralNoBREDR})
	if a.Name != "" {
		buf = appendAD(buf, adTypeCompleteName, []byte(a.Name))
	}
	if len(a.ServiceUUIDs) > 0 {
		uuids := make([]byte, 0, 2*len(a.ServiceUUIDs))
		for _, u := range a.ServiceUUIDs {
			uuids = binary.LittleEndian.AppendUint16(uuids, u)
		}
		buf = appendAD(buf, adTypeUUID16Complete, uuids)
	}
	if a.Appearance != 0 {
		buf = appendAD(buf, adTypeAppearance, binary.LittleEndian.AppendUint16(nil, a.Appearance))
	}
	if len(buf) > maxLegacyAdvLen {
		return nil, fmt.Errorf("ble: advertising payload is %d bytes, max %d", len(buf), maxLegacyAdvLen)
	}
	return buf, nil
}

func appendAD(buf []byte, typ byte, data []byte) []byte {
	buf = append(buf, byte(len(data)+1), typ)
	return append(buf, data...)
}

// backoffDelay returns the retry delay for attempt n, capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// KeepAdvertising starts adv, retrying with exponential backoff until the
// stack accepts it or ctx is done.
func KeepAdvertising(ctx context.Context, stack Stack, adv Advertisement, maxDelay time.Duration) error {
	if _, err := adv.Payload(); err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		// First attempt is immediate; later ones back off.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, maxDelay)
			slog.Info("[BLE] advertise backoff", "attempt", attempt+1, "delay", delay)
			if err := clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}
		err := stack.Advertise(adv)
		if err == nil {
			return nil
		}
		slog.Warn("[BLE] advertise failed", "error", err, "attempt", attempt+1)
	}
}
