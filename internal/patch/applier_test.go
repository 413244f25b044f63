package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/scan"
	"github.com/standardbeagle/patchloop/internal/types"
)

const source = "int f(int x) {\n" +
	"  // guard\n" +
	"  if (x > 0) {\n" +
	"    return 1;\n" +
	"  }\n" +
	"  return 0;\n" +
	"}\n"

func setup(t *testing.T, files map[string]string) (*Applier, string) {
	t.Helper()
	root := t.TempDir()
	var rels []string
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
		rels = append(rels, rel)
	}
	s := scan.NewForLanguage(root, types.LanguageCpp)
	return NewApplier(s, rels, 5), root
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func TestApply_ReplacesDriftedIndentedSnippet(t *testing.T) {
	a, root := setup(t, map[string]string{"src/f.cpp": source})

	res := a.Apply(types.Modification{
		FilePath:    "src/f.cpp",
		Range:       &types.LineRange{Start: 4, End: 7},
		Original:    "if (x > 0) {\n  return 1;\n}",
		Replacement: "return 2;",
	})
	require.True(t, res.Success, res.Message)
	require.NoError(t, res.Err)

	got := read(t, root, "src/f.cpp")
	assert.Contains(t, got, "return 2;")
	assert.NotContains(t, got, "return 1;")
	assert.Contains(t, got, "  // guard\n")
	assert.Contains(t, res.Message, "Match code found at (0,7) in file src/f.cpp. ")
	assert.Contains(t, res.Message, "src/f.cpp file modified successfully. ")
	assert.NotEqual(t, res.BeforeHash, res.AfterHash)
	assert.Greater(t, res.Deleted, 0)
	assert.Equal(t, 1, res.Located.Expansions)
}

func TestApply_FirstOccurrenceOnly(t *testing.T) {
	content := "a();\nb();\na();\n"
	a, root := setup(t, map[string]string{"x.cpp": content})

	res := a.Apply(types.Modification{
		FilePath:    "x.cpp",
		Range:       &types.LineRange{Start: 0, End: 3},
		Original:    "a();",
		Replacement: "c();",
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "c();\nb();\na();\n", read(t, root, "x.cpp"))
}

func TestApply_Insertion(t *testing.T) {
	a, root := setup(t, map[string]string{"x.cpp": "one\ntwo\n"})

	res := a.Apply(types.Modification{
		FilePath:    "x.cpp",
		Range:       &types.LineRange{Start: 1, End: 1},
		Original:    "...",
		Replacement: "inserted\n",
	})
	require.True(t, res.Success, res.Message)
	assert.True(t, res.Located.Insertion)
	assert.Equal(t, "one\ninserted\ntwo\n", read(t, root, "x.cpp"))
	assert.Contains(t, res.Message, "Original code is empty. ")
}

func TestApply_AbsolutePath(t *testing.T) {
	a, root := setup(t, map[string]string{"x.cpp": "old();\n"})

	res := a.Apply(types.Modification{
		FilePath:    filepath.Join(root, "x.cpp"),
		Range:       &types.LineRange{Start: 0, End: 1},
		Original:    "old();",
		Replacement: "new();",
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "x.cpp", res.FilePath)
	assert.Equal(t, "new();\n", read(t, root, "x.cpp"))
}

func TestApply_MissingRangeSearchesWholeFile(t *testing.T) {
	a, root := setup(t, map[string]string{"x.cpp": source})

	res := a.Apply(types.Modification{
		FilePath:    "x.cpp",
		Original:    "return 0;",
		Replacement: "return -1;",
	})
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "Patch position is empty. Please include position in your output. ")
	assert.Contains(t, read(t, root, "x.cpp"), "return -1;")
}

func TestApply_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mod     types.Modification
		message string
		cause   error
	}{
		{
			name:    "unknown file",
			mod:     types.Modification{FilePath: "nope.cpp", Range: &types.LineRange{}, Original: "x", Replacement: "y"},
			message: "No file: nope.cpp found in project directory. Please check the file name again carefully. ",
		},
		{
			name:    "outside root",
			mod:     types.Modification{FilePath: "../x.cpp", Range: &types.LineRange{}, Original: "x", Replacement: "y"},
			message: "No file: ../x.cpp found in project directory.",
		},
		{
			name:    "empty replacement",
			mod:     types.Modification{FilePath: "x.cpp", Range: &types.LineRange{}, Original: "x", Replacement: "  "},
			message: "Patch code is empty. ",
			cause:   types.ErrEmptyReplacement,
		},
		{
			name:    "placeholder replacement",
			mod:     types.Modification{FilePath: "x.cpp", Range: &types.LineRange{}, Original: "x", Replacement: "..."},
			message: "Patch code is empty. ",
			cause:   types.ErrEmptyReplacement,
		},
		{
			name:    "no position and no original",
			mod:     types.Modification{FilePath: "x.cpp", Replacement: "y"},
			message: "Original code is empty. Patch position is empty. Please include position in your output. ",
			cause:   types.ErrNoLocation,
		},
		{
			name:    "not found",
			mod:     types.Modification{FilePath: "x.cpp", Range: &types.LineRange{Start: 0, End: 1}, Original: "missing();", Replacement: "y"},
			message: "No match code snippets: <original>missing();</original> found in x.cpp file_path. ",
			cause:   plerrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, root := setup(t, map[string]string{"x.cpp": source})

			res := a.Apply(tt.mod)
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, tt.message)
			require.Error(t, res.Err)
			var ae *plerrors.ApplyError
			assert.ErrorAs(t, res.Err, &ae)
			if tt.cause != nil {
				assert.ErrorIs(t, res.Err, tt.cause)
			}
			assert.Equal(t, source, read(t, root, "x.cpp"), "rejected modification must not write")
		})
	}
}

func TestApply_NotFoundCarriesLocateError(t *testing.T) {
	a, _ := setup(t, map[string]string{"x.cpp": source})

	res := a.Apply(types.Modification{FilePath: "x.cpp", Range: &types.LineRange{Start: 0, End: 1}, Original: "gone()", Replacement: "y"})
	var le *plerrors.LocateError
	require.ErrorAs(t, res.Err, &le)
	assert.Equal(t, "x.cpp", le.FilePath)
	assert.Equal(t, "gone()", le.Excerpt)
}

func TestApply_SequentialEditsSeeFreshContent(t *testing.T) {
	a, root := setup(t, map[string]string{"x.cpp": "a();\nb();\n"})

	first := a.Apply(types.Modification{FilePath: "x.cpp", Range: &types.LineRange{Start: 0, End: 1}, Original: "a();", Replacement: "a2();\na3();"})
	require.True(t, first.Success, first.Message)

	// b() moved down one line; the stale range still resolves
	second := a.Apply(types.Modification{FilePath: "x.cpp", Range: &types.LineRange{Start: 1, End: 2}, Original: "b();", Replacement: "b2();"})
	require.True(t, second.Success, second.Message)
	assert.Equal(t, "a2();\na3();\nb2();\n", read(t, root, "x.cpp"))
}

func TestApply_WriteReplacesFileInPlace(t *testing.T) {
	a, root := setup(t, map[string]string{"x.cpp": "a();\nb();\n"})
	full := filepath.Join(root, "x.cpp")
	require.NoError(t, os.Chmod(full, 0600))

	res := a.Apply(types.Modification{FilePath: "x.cpp", Range: &types.LineRange{Start: 0, End: 1}, Original: "a();", Replacement: "a2();"})
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "a2();\nb();\n", read(t, root, "x.cpp"))
	assert.NoFileExists(t, full+".tmp")
	info, err := os.Stat(full)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestApply_FailedWriteKeepsOriginal(t *testing.T) {
	a, root := setup(t, map[string]string{"x.cpp": "a();\nb();\n"})
	// the staging path is occupied by a non-empty directory, so the write cannot land
	staging := filepath.Join(root, "x.cpp.tmp")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "keep"), 0755))

	res := a.Apply(types.Modification{FilePath: "x.cpp", Range: &types.LineRange{Start: 0, End: 1}, Original: "a();", Replacement: "a2();"})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	assert.Equal(t, "a();\nb();\n", read(t, root, "x.cpp"))
}
