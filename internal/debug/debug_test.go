package debug

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveAndRestoreState saves the debug package state and returns a cleanup function
func saveAndRestoreState() func() {
	originalDebug := EnableDebug
	originalQuiet := QuietMode
	originalOutput := debugOutput
	originalFile := debugFile
	return func() {
		EnableDebug = originalDebug
		QuietMode = originalQuiet
		debugOutput = originalOutput
		debugFile = originalFile
	}
}

func TestIsDebugEnabled(t *testing.T) {
	defer saveAndRestoreState()()
	t.Setenv("DEBUG", "")
	t.Setenv("PATCHLOOP_DEBUG", "")

	EnableDebug = "false"
	QuietMode = false
	assert.False(t, IsDebugEnabled())

	EnableDebug = "true"
	assert.True(t, IsDebugEnabled())

	SetQuietMode(true)
	assert.False(t, IsDebugEnabled())
}

func TestIsDebugEnabled_Env(t *testing.T) {
	defer saveAndRestoreState()()
	EnableDebug = "false"
	QuietMode = false

	t.Setenv("PATCHLOOP_DEBUG", "1")
	assert.True(t, IsDebugEnabled())
}

func TestComponentLoggers(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	QuietMode = false

	LogLocate("window %d-%d\n", 0, 10)
	LogRepair("round %d\n", 2)

	output := buf.String()
	assert.Contains(t, output, "[DEBUG:LOCATE] window 0-10")
	assert.Contains(t, output, "[DEBUG:REPAIR] round 2")
}

func TestLog_QuietMode(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	QuietMode = true
	Log("TEST", "hidden")

	assert.Empty(t, buf.String())
}

func TestLog_NoWriter(t *testing.T) {
	defer saveAndRestoreState()()

	SetDebugOutput(nil)
	EnableDebug = "true"
	QuietMode = false
	assert.NotPanics(t, func() { Printf("nothing %d", 1) })
}

func TestInitDebugLogFile(t *testing.T) {
	defer saveAndRestoreState()()

	path, err := InitDebugLogFile()
	require.NoError(t, err)
	defer os.Remove(path)

	EnableDebug = "true"
	QuietMode = false
	LogIndex("to file\n")
	require.NoError(t, CloseDebugLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG:INDEX] to file")
}

func TestFatal(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	QuietMode = false

	err := Fatal("broken %s", "tree")
	assert.EqualError(t, err, "fatal error: broken tree")
	assert.Contains(t, buf.String(), "[FATAL] broken tree")
}
