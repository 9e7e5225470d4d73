package logger

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"), "unknown levels fall back to Info")
}

func TestStdLoggerRendersSortedMergedFields(t *testing.T) {
	var buf bytes.Buffer
	l := &StdLogger{logger: log.New(&buf, "", 0), level: LevelInfo}

	l.Info(context.Background(), "order placed",
		map[string]interface{}{"symbol": "ETHUSDT", "side": "BUY"},
		map[string]interface{}{"qty": 1.5})
	assert.Equal(t, "[INFO] order placed | qty=1.5 side=BUY symbol=ETHUSDT\n", buf.String())
}

func TestStdLoggerHonorsLevelAndError(t *testing.T) {
	var buf bytes.Buffer
	l := &StdLogger{logger: log.New(&buf, "", 0), level: LevelInfo}

	l.Debug(context.Background(), "below threshold")
	assert.Empty(t, buf.String())

	l.Error(context.Background(), errors.New("boom"), "close failed")
	assert.Equal(t, "[ERROR] close failed | error: boom\n", buf.String())
}
