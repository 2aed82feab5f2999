package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConsoleLevelAndWriters(t *testing.T) {
	var out bytes.Buffer
	SetWriters(&out, &out)
	t.Cleanup(func() { SetWriters(nil, nil); Init("info") })

	Init("warn")
	Info("hidden")
	Warn("visible", zap.Int("n", 1))

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "visible")
	assert.False(t, IsDebugEnabled())
}

func TestFileSink(t *testing.T) {
	var out bytes.Buffer
	SetWriters(&out, &out)
	Init("error")

	path := filepath.Join(t.TempDir(), "bot.log")
	InitFile(FileOptions{Path: path, Level: "debug", MaxSizeMB: 1})
	t.Cleanup(func() {
		InitFile(FileOptions{})
		SetWriters(nil, nil)
		Init("info")
	})

	Debugf("sms check %s", "+8801712345678")
	assert.True(t, IsDebugEnabled())
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"sms check +8801712345678"`), string(data))
	assert.Empty(t, out.String(), "console must stay at error level")
}
