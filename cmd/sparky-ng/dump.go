package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"sparky-ng/internal/fixedpoint"
	"sparky-ng/internal/razor"
)

var (
	frameColor   = color.New(color.FgGreen)
	noFrameColor = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed, color.Bold)
)

type dumpCounts struct {
	Decoded int
	NoFrame int
	Errors  int
}

// dumpWindow decodes one window and prints the result to w.
func dumpWindow(w io.Writer, dec *razor.Decoder, c *dumpCounts) {
	res, err := dec.Decode()
	switch {
	case err != nil:
		c.Errors++
		errColor.Fprintf(w, "error    %v\n", err)
	case res == razor.Decoded:
		c.Decoded++
		yaw, pitch, roll := dec.Yaw(), dec.Pitch(), dec.Roll()
		frameColor.Fprintf(w, "ypr      %8.2f %8.2f %8.2f", yaw, pitch, roll)
		fmt.Fprintf(w, "  [%d %d %d]\n",
			fixedpoint.FromDegrees(yaw), fixedpoint.FromDegrees(pitch), fixedpoint.FromDegrees(roll))
	case res == razor.NoFrame:
		c.NoFrame++
		noFrameColor.Fprintf(w, "no frame\n")
	}
}

// runDump prints every decoded frame until ctx is done. Useful for checking
// sensor wiring and mounting before enabling control.
func runDump(ctx context.Context, w io.Writer, dec *razor.Decoder, poll time.Duration) dumpCounts {
	var c dumpCounts
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(w, "decoded=%d no_frame=%d errors=%d\n", c.Decoded, c.NoFrame, c.Errors)
			return c
		case <-t.C:
			for i := 0; i < maxWindowsPerPoll && dec.Available(); i++ {
				dumpWindow(w, dec, &c)
			}
		}
	}
}
