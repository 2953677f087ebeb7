package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/server"
)

var errQuit = errors.New("quit")

const consoleHelp = `Commands:
  c                 connect to the receiver
  d                 disconnect
  f <hz> [channel]  tune the receiver
  s                 toggle IQ streaming
  i                 print statistics
  h                 show this help
  q                 quit
`

// runConsole reads commands from in until ctx is cancelled, in is exhausted
// or the user quits, in which case errQuit is returned.
func runConsole(ctx context.Context, ctrl server.Controller, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	fmt.Fprint(out, consoleHelp)
	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := execute(ctx, ctrl, line, out); err != nil {
				return err
			}
		}
	}
}

func execute(ctx context.Context, ctrl server.Controller, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "c":
		if ctrl.Connected() {
			fmt.Fprintln(out, "already connected")
			return nil
		}
		if err := ctrl.Connect(ctx); err != nil {
			fmt.Fprintf(out, "connect failed: %v\n", err)
			return nil
		}
		fmt.Fprintln(out, "connected")

	case "d":
		ctrl.Disconnect()
		fmt.Fprintln(out, "disconnected")

	case "f":
		if len(fields) < 2 || len(fields) > 3 {
			fmt.Fprintln(out, "usage: f <hz> [channel]")
			return nil
		}
		hz, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			fmt.Fprintf(out, "invalid frequency %q\n", fields[1])
			return nil
		}
		var channel uint64
		if len(fields) == 3 {
			channel, err = strconv.ParseUint(fields[2], 10, 8)
			if err != nil {
				fmt.Fprintf(out, "invalid channel %q\n", fields[2])
				return nil
			}
		}
		if !ctrl.Connected() {
			fmt.Fprintln(out, "not connected")
			return nil
		}
		resp, err := ctrl.ChangeFrequency(ctx, hz, uint8(channel))
		if err != nil {
			fmt.Fprintf(out, "frequency change failed: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "tuned to %d Hz: %v\n", hz, resp)

	case "s":
		if !ctrl.Connected() {
			fmt.Fprintln(out, "not connected")
			return nil
		}
		if ctrl.IQStreaming() {
			if err := ctrl.StopIQ(ctx); err != nil {
				fmt.Fprintf(out, "stop failed: %v\n", err)
				return nil
			}
			fmt.Fprintln(out, "IQ streaming stopped")
			return nil
		}
		if err := ctrl.StartIQ(ctx); err != nil {
			fmt.Fprintf(out, "start failed: %v\n", err)
			return nil
		}
		fmt.Fprintln(out, "IQ streaming started")

	case "i":
		data, err := json.MarshalIndent(ctrl.Stats(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))

	case "h", "?":
		fmt.Fprint(out, consoleHelp)

	case "q":
		return errQuit

	default:
		fmt.Fprintf(out, "unknown command %q, h for help\n", fields[0])
	}
	return nil
}
