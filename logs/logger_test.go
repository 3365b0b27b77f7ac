package logs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"auto_hedge_go/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingBeforeInit(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Infof("[Test] hello %d", 1)
	WithFields(logrus.Fields{"position": "xrp-long"}).Warn("tagged")

	out := buf.String()
	assert.Contains(t, out, "[Test] hello 1")
	assert.Contains(t, out, "position=xrp-long")
}

func TestInitWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.log")
	err := Init(&config.LogConfig{LogLevel: "debug", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}, path)
	require.NoError(t, err)
	SetOutput(&bytes.Buffer{})

	Debug("[Test] file entry")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Test] file entry")

	SetLevel("info")
	SetOutput(os.Stdout)
}
