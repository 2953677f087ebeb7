package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

type consoleController struct {
	connected  bool
	streaming  bool
	connectErr error
	tunedHz    uint64
	tunedCh    uint8
	calls      []string
}

func (c *consoleController) Connect(ctx context.Context) error {
	c.calls = append(c.calls, "connect")
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *consoleController) Disconnect() {
	c.calls = append(c.calls, "disconnect")
	c.connected, c.streaming = false, false
}

func (c *consoleController) StartIQ(ctx context.Context) error {
	c.calls = append(c.calls, "start")
	c.streaming = true
	return nil
}

func (c *consoleController) StopIQ(ctx context.Context) error {
	c.calls = append(c.calls, "stop")
	c.streaming = false
	return nil
}

func (c *consoleController) ChangeFrequency(ctx context.Context, hz uint64, channel uint8) (protocol.Message, error) {
	c.calls = append(c.calls, "tune")
	c.tunedHz, c.tunedCh = hz, channel
	return &protocol.ControlFrame{Type: protocol.SetControlItem, ItemCode: protocol.ReceiverFrequency}, nil
}

func (c *consoleController) Connected() bool   { return c.connected }
func (c *consoleController) IQStreaming() bool { return c.streaming }

func (c *consoleController) Stats() client.Stats {
	return client.Stats{Connected: c.connected, RequestsSent: 4}
}

func TestConsoleSession(t *testing.T) {
	ctrl := &consoleController{}
	in := strings.NewReader("c\ns\nf 7100000 1\ns\ni\nbogus\nd\nq\nc\n")
	var out bytes.Buffer

	err := runConsole(context.Background(), ctrl, in, &out)
	assert.ErrorIs(t, err, errQuit)

	// commands after q are never executed
	assert.Equal(t, []string{"connect", "start", "tune", "stop", "disconnect"}, ctrl.calls)
	assert.Equal(t, uint64(7100000), ctrl.tunedHz)
	assert.Equal(t, uint8(1), ctrl.tunedCh)

	text := out.String()
	assert.Contains(t, text, "IQ streaming started")
	assert.Contains(t, text, "IQ streaming stopped")
	assert.Contains(t, text, `"requests_sent": 4`)
	assert.Contains(t, text, `unknown command "bogus"`)
}

func TestConsoleRequiresConnection(t *testing.T) {
	ctrl := &consoleController{}
	var out bytes.Buffer

	require.NoError(t, execute(context.Background(), ctrl, "s", &out))
	require.NoError(t, execute(context.Background(), ctrl, "f 1000", &out))
	assert.Empty(t, ctrl.calls)
	assert.Equal(t, 2, strings.Count(out.String(), "not connected"))
}

func TestConsoleArgumentErrors(t *testing.T) {
	ctrl := &consoleController{connected: true}
	var out bytes.Buffer

	for _, line := range []string{"f", "f abc", "f 1000 256", "f 1 2 3"} {
		require.NoError(t, execute(context.Background(), ctrl, line, &out))
	}
	assert.Empty(t, ctrl.calls)
	assert.Contains(t, out.String(), "usage: f <hz> [channel]")
	assert.Contains(t, out.String(), `invalid frequency "abc"`)
	assert.Contains(t, out.String(), `invalid channel "256"`)
}

func TestConsoleConnectFailure(t *testing.T) {
	ctrl := &consoleController{connectErr: errors.New("connection refused")}
	var out bytes.Buffer

	require.NoError(t, execute(context.Background(), ctrl, "c", &out))
	assert.Contains(t, out.String(), "connect failed: connection refused")
	assert.False(t, ctrl.connected)
}

func TestConsoleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// a reader that never yields a line
	r, w := io.Pipe()
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- runConsole(ctx, &consoleController{}, r, &bytes.Buffer{}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop after cancel")
	}
}

func TestInitLoggerFileOutput(t *testing.T) {
	path := t.TempDir() + "/netsdr.log"
	logger, closeLog := initLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path, MaxSizeMB: 1})
	logger.Debug("hello", "k", "v")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
