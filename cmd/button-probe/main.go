// Command button-probe shows how keyboard input is decoded into button
// gestures. Each gesture is printed with the time since the previous one,
// so the double-click, long-press and combine windows can be tuned before
// copying them into the node config. A per-gesture tally is printed on exit.
//
// Usage:
//
//	go run ./cmd/button-probe [-down down] [-up up] [-long 1200ms] [-double 400ms] [-combine 600ms]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/button"
	"github.com/chaz8081/narmi-sensor/internal/button/hook"
)

func main() {
	def := button.DefaultOptions()
	down := flag.String("down", "down", "key for button 1")
	up := flag.String("up", "up", "key for button 2")
	long := flag.Duration("long", def.LongPress, "hold time for a long press")
	double := flag.Duration("double", def.DoubleClick, "max gap between the clicks of a double click")
	combine := flag.Duration("combine", def.CombineWindow, "max gap between two long presses to combine them")
	flag.Parse()

	opts := button.Options{LongPress: *long, DoubleClick: *double, CombineWindow: *combine}
	fmt.Printf("Button 1 = %q, button 2 = %q\n", *down, *up)
	fmt.Printf("Long press %v, double click within %v, combine within %v\n",
		opts.LongPress, opts.DoubleClick, opts.CombineWindow)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hook.NewListener(map[int]string{1: *down, 2: *up}, button.NewDecoder(opts))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		listener.Stop()
	}()

	tally := make(map[button.Kind]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		start := time.Now()
		last := start
		for ev := range listener.Events() {
			now := time.Now()
			tally[ev.Kind]++
			fmt.Printf("%8.3fs  btn(%d) %-8s +%v\n",
				now.Sub(start).Seconds(), ev.Button, ev.Kind, now.Sub(last).Round(time.Millisecond))
			last = now
		}
	}()

	listener.Start()
	<-done

	fmt.Println("\nGestures:")
	for k := button.Press; k <= button.Combined; k++ {
		fmt.Printf("  %-8s %d\n", k, tally[k])
	}
}
