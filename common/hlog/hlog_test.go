package hlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZapLoggerLevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	l := newZapLogger(&buf, LevelWarn)

	l.Infof("hidden %d", 1)
	assert.Equal(t, 0, buf.Len())

	l.Warnf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "WARN")

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("now ", "visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestPrefixLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &prefixLogger{logger: newZapLogger(&buf, LevelTrace), prefix: systemLogPrefix}
	l.Errorf("监听失败: %s", "eaddrinuse")
	assert.Contains(t, buf.String(), "[breeze] 监听失败: eaddrinuse")
}

func TestParseLevel(t *testing.T) {
	lv, err := ParseLevel(" WARN ")
	assert.Nil(t, err)
	assert.Equal(t, LevelWarn, lv)

	_, err = ParseLevel("verbose")
	assert.NotNil(t, err)

	assert.Equal(t, "notice", LevelNotice.String())
	assert.Equal(t, "level(42)", Level(42).String())
}
