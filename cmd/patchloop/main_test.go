package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/patchloop/internal/patch"
	"github.com/standardbeagle/patchloop/internal/segment"
	"github.com/standardbeagle/patchloop/internal/types"
)

const appPy = "def a():\n    return 1\n\n\ndef b():\n    return 2\n"

const projectKDL = `project {
    name "demo"
    language "python"
}
validate {
    command "python" "test -s {file}"
}
`

// setupProject creates a configured python project and isolates the
// user-level config and state directories.
func setupProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATCHLOOP_HOME", t.TempDir())

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte(appPy), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".patchloop.kdl"), []byte(projectKDL), 0644))
	return root
}

// runApp runs the CLI in-process and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"patchloop"}, args...))
	return out.String(), err
}

func TestSegmentCommand(t *testing.T) {
	root := setupProject(t)

	out, err := runApp(t, "--root", root, "segment", "--json", "app.py")
	require.NoError(t, err)

	var units []segment.Unit
	require.NoError(t, json.Unmarshal([]byte(out), &units))
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].Name)
	assert.Equal(t, "b", units[1].Name)
}

func TestLocateCommand(t *testing.T) {
	root := setupProject(t)

	out, err := runApp(t, "--root", root, "locate", "--position", "0,1", "--original", "return 2", "--json", "app.py")
	require.NoError(t, err)
	var located types.LocatedRange
	require.NoError(t, json.Unmarshal([]byte(out), &located))
	assert.Equal(t, "return 2", located.Matched)

	_, err = runApp(t, "--root", root, "locate", "--original", "return 3", "app.py")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no match in app.py")

	_, err = runApp(t, "--root", root, "locate", "--original", "x", "../outside.py")
	assert.Error(t, err)
}

func TestApplyCommand(t *testing.T) {
	root := setupProject(t)

	out, err := runApp(t, "--root", root, "apply", "--file", "app.py", "--position", "4,6",
		"--original", "return 2", "--patched", "return 20", "--json")
	require.NoError(t, err)

	var results []patch.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "app.py", results[0].FilePath)

	content, err := os.ReadFile(filepath.Join(root, "app.py"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "    return 20\n")

	out, err = runApp(t, "--root", root, "apply", "--file", "missing.py", "--original", "x", "--patched", "y")
	assert.Error(t, err)
	assert.Contains(t, out, "No file: missing.py found in project directory.")
}

func TestApplyCommand_Records(t *testing.T) {
	root := setupProject(t)
	records := "# modification 1\n" +
		"<file>app.py</file>\n" +
		"<position>0,2</position>\n" +
		"<original>return 1</original>\n" +
		"<patched>return 10</patched>\n"
	recordsPath := filepath.Join(t.TempDir(), "records.txt")
	require.NoError(t, os.WriteFile(recordsPath, []byte(records), 0644))

	out, err := runApp(t, "--root", root, "apply", "--records", recordsPath)
	require.NoError(t, err, out)

	content, err := os.ReadFile(filepath.Join(root, "app.py"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "    return 10\n")
}

func TestValidateCommand(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := setupProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.py"), nil, 0644))

	out, err := runApp(t, "--root", root, "validate", "app.py")
	require.NoError(t, err)
	assert.Contains(t, out, "Syntax check passed for app.py.")

	out, err = runApp(t, "--root", root, "validate", "app.py", "empty.py")
	assert.Error(t, err)
	assert.Contains(t, out, "Syntax check failed for empty.py.")
}

func TestConfigCommands(t *testing.T) {
	root := setupProject(t)

	out, err := runApp(t, "--root", root, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok: demo (python)")

	out, err = runApp(t, "--root", root, "--language", "go", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"go"`)

	_, err = runApp(t, "--root", root, "--language", "cobol", "config", "show")
	assert.Error(t, err)

	// no config file and no manifest: nothing names the project
	bare := t.TempDir()
	_, err = runApp(t, "--root", bare, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project name cannot be empty")
}

func TestRunCommand_RequiresInstruction(t *testing.T) {
	root := setupProject(t)
	_, err := runApp(t, "--root", root, "run")
	assert.Error(t, err)
}
