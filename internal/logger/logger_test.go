package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()

	buf := new(bytes.Buffer)
	mu.RLock()
	prevOut, prevColor := output, useColor
	mu.RUnlock()
	prevLevel := GetLevel()
	prevFormat, _ := currentFormat.Load().(string)

	InitWithWriter(buf, level, format, false)
	t.Cleanup(func() {
		InitWithWriter(prevOut, prevLevel.String(), prevFormat, prevColor)
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugShowsEverything", func(t *testing.T) {
		buf := captureOutput(t, "DEBUG", "text")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		for _, want := range []string{"DEBUG", "INFO", "WARN", "ERROR", "debug message", "error message"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("WarnHidesInfoAndDebug", func(t *testing.T) {
		buf := captureOutput(t, "WARN", "text")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("InvalidLevelIgnored", func(t *testing.T) {
		captureOutput(t, "INFO", "text")
		SetLevel("chatty")
		assert.Equal(t, LevelInfo, GetLevel())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"Error", LevelError, true},
		{"trace", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONFormatFields(t *testing.T) {
	buf := captureOutput(t, "DEBUG", "json")

	Info("retrying compound", Op("LOCK"), Attempt(2), Status(10008), FileID(42))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "retrying compound", rec["msg"])
	assert.Equal(t, "LOCK", rec[KeyOp])
	assert.EqualValues(t, 2, rec[KeyAttempt])
	assert.EqualValues(t, 10008, rec[KeyStatus])
	assert.EqualValues(t, 42, rec[KeyFileID])
}

func TestContextFieldsArePrepended(t *testing.T) {
	buf := captureOutput(t, "DEBUG", "text")

	lc := NewLogContext("10.0.0.1:2049").WithOperation("Rename", 7)
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "rename done", KeyNewName, "b")

	out := buf.String()
	assert.Contains(t, out, "operation=Rename")
	assert.Contains(t, out, "server=10.0.0.1:2049")
	assert.Contains(t, out, "file_id=7")
	assert.Less(t, strings.Index(out, "operation="), strings.Index(out, "new_name="))
}

func TestLogContextClone(t *testing.T) {
	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())
	assert.Nil(t, FromContext(context.Background()))

	lc := NewLogContext("srv")
	traced := lc.WithTrace("t1", "s1")
	assert.Empty(t, lc.TraceID)
	assert.Equal(t, "t1", traced.TraceID)
	assert.Equal(t, "srv", traced.Server)
}

func TestTextHandlerGroups(t *testing.T) {
	buf := captureOutput(t, "INFO", "text")

	With("cache", "dir").WithGroup("dircache").Info("trashed", "entries", 3)

	out := buf.String()
	assert.Contains(t, out, "cache=dir")
	assert.Contains(t, out, "dircache.entries=3")
}

func TestErrAttr(t *testing.T) {
	assert.Equal(t, "", Err(nil).Key)
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
}

func TestTextHandlerBytes(t *testing.T) {
	buf := captureOutput(t, "INFO", "text")

	Info("opaque", "owner", []byte{0xde, 0xad}, "verifier", bytes.Repeat([]byte{1}, 40))

	out := buf.String()
	assert.Contains(t, out, "owner=dead")
	assert.Contains(t, out, "verifier="+strings.Repeat("01", maxBytesShown)+"...")
}
