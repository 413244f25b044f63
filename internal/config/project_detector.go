// Project detection from language-specific manifest files.
// Reads pubspec.yaml, pyproject.toml, Cargo.toml, go.mod, package.json, etc.
// to infer the project name, its language and custom build output directories.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/patchloop/internal/types"
)

// ErrNoManifest is returned when no known manifest exists in the root.
var ErrNoManifest = errors.New("no project manifest found")

// ProjectInfo is what the detector learned from the manifests.
type ProjectInfo struct {
	Name       string
	Language   types.Language
	Manifest   string   // File the language was inferred from
	OutputDirs []string // Custom build output directories
}

// OutputExclusions returns glob patterns for the detected output directories.
func (p *ProjectInfo) OutputExclusions() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.OutputDirs))
	for _, dir := range p.OutputDirs {
		dir = strings.Trim(filepath.ToSlash(dir), "/.")
		if dir != "" {
			out = append(out, "**/"+dir+"/**")
		}
	}
	return out
}

// ProjectDetector inspects manifest files in a project root
type ProjectDetector struct {
	projectRoot string
}

// NewProjectDetector creates a new project detector
func NewProjectDetector(projectRoot string) *ProjectDetector {
	return &ProjectDetector{projectRoot: projectRoot}
}

// DetectProject is a convenience wrapper around ProjectDetector.Detect.
func DetectProject(root string) (*ProjectInfo, error) {
	return NewProjectDetector(root).Detect()
}

// Detect checks manifests in priority order. The first manifest that exists
// decides the language; the directory name is the fallback project name.
func (pd *ProjectDetector) Detect() (*ProjectInfo, error) {
	detectors := []func() (*ProjectInfo, bool){
		pd.detectFlutter,
		pd.detectRust,
		pd.detectGo,
		pd.detectPython,
		pd.detectNode,
		pd.detectZig,
		pd.detectJava,
		pd.detectPHP,
		pd.detectCSharp,
		pd.detectCpp,
	}
	for _, detect := range detectors {
		if info, ok := detect(); ok {
			if info.Name == "" {
				info.Name = filepath.Base(absOr(pd.projectRoot))
			}
			return info, nil
		}
	}
	return nil, ErrNoManifest
}

func (pd *ProjectDetector) read(name string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(pd.projectRoot, name))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (pd *ProjectDetector) exists(name string) bool {
	_, err := os.Stat(filepath.Join(pd.projectRoot, name))
	return err == nil
}

// detectFlutter reads pubspec.yaml
func (pd *ProjectDetector) detectFlutter() (*ProjectInfo, bool) {
	data, ok := pd.read("pubspec.yaml")
	if !ok {
		return nil, false
	}
	info := &ProjectInfo{Language: types.LanguageFlutter, Manifest: "pubspec.yaml"}
	var pubspec struct {
		Name string `yaml:"name"`
	}
	if yaml.Unmarshal(data, &pubspec) == nil {
		info.Name = pubspec.Name
	}
	return info, true
}

// detectRust reads Cargo.toml, including a custom target-dir
func (pd *ProjectDetector) detectRust() (*ProjectInfo, bool) {
	data, ok := pd.read("Cargo.toml")
	if !ok {
		return nil, false
	}
	info := &ProjectInfo{Language: types.LanguageRust, Manifest: "Cargo.toml"}
	var cargo map[string]interface{}
	if toml.Unmarshal(data, &cargo) == nil {
		if pkg, ok := cargo["package"].(map[string]interface{}); ok {
			if name, ok := pkg["name"].(string); ok {
				info.Name = name
			}
		}
		if profile, ok := cargo["profile"].(map[string]interface{}); ok {
			if release, ok := profile["release"].(map[string]interface{}); ok {
				if targetDir, ok := release["target-dir"].(string); ok {
					info.OutputDirs = append(info.OutputDirs, targetDir)
				}
			}
		}
	}
	return info, true
}

// detectGo reads the module path from go.mod
func (pd *ProjectDetector) detectGo() (*ProjectInfo, bool) {
	data, ok := pd.read("go.mod")
	if !ok {
		return nil, false
	}
	info := &ProjectInfo{Language: types.LanguageGo, Manifest: "go.mod"}
	if path := modfile.ModulePath(data); path != "" {
		info.Name = path[strings.LastIndex(path, "/")+1:]
	}
	return info, true
}

// detectPython reads pyproject.toml (PEP 621 or Poetry), or accepts setup.py
func (pd *ProjectDetector) detectPython() (*ProjectInfo, bool) {
	data, ok := pd.read("pyproject.toml")
	if !ok {
		if pd.exists("setup.py") || pd.exists("requirements.txt") {
			return &ProjectInfo{Language: types.LanguagePython, Manifest: "setup.py"}, true
		}
		return nil, false
	}
	info := &ProjectInfo{Language: types.LanguagePython, Manifest: "pyproject.toml"}
	var pyproject map[string]interface{}
	if toml.Unmarshal(data, &pyproject) == nil {
		if project, ok := pyproject["project"].(map[string]interface{}); ok {
			if name, ok := project["name"].(string); ok {
				info.Name = name
			}
		}
		if tool, ok := pyproject["tool"].(map[string]interface{}); ok {
			if poetry, ok := tool["poetry"].(map[string]interface{}); ok {
				if name, ok := poetry["name"].(string); ok && info.Name == "" {
					info.Name = name
				}
				if build, ok := poetry["build"].(map[string]interface{}); ok {
					if targetDir, ok := build["target-dir"].(string); ok {
						info.OutputDirs = append(info.OutputDirs, targetDir)
					}
				}
			}
		}
	}
	return info, true
}

// detectNode reads package.json and tsconfig.json; a tsconfig makes it TypeScript
func (pd *ProjectDetector) detectNode() (*ProjectInfo, bool) {
	data, ok := pd.read("package.json")
	if !ok {
		return nil, false
	}
	info := &ProjectInfo{Language: types.LanguageJavaScript, Manifest: "package.json"}
	var pkg map[string]interface{}
	if json.Unmarshal(data, &pkg) == nil {
		if name, ok := pkg["name"].(string); ok {
			info.Name = strings.TrimPrefix(name[strings.LastIndex(name, "/")+1:], "@")
		}
		if scripts, ok := pkg["scripts"].(map[string]interface{}); ok {
			for _, script := range scripts {
				scriptStr, ok := script.(string)
				if !ok {
					continue
				}
				parts := strings.Fields(scriptStr)
				for i, part := range parts {
					if (part == "--outDir" || part == "-outDir") && i+1 < len(parts) {
						info.OutputDirs = append(info.OutputDirs, strings.Trim(parts[i+1], "\"'"))
					}
				}
			}
		}
		if deps, ok := pkg["devDependencies"].(map[string]interface{}); ok {
			if _, ok := deps["typescript"]; ok {
				info.Language = types.LanguageTypeScript
			}
		}
	}

	if tsData, ok := pd.read("tsconfig.json"); ok {
		info.Language = types.LanguageTypeScript
		var tsconfig map[string]interface{}
		if json.Unmarshal(tsData, &tsconfig) == nil {
			if compilerOptions, ok := tsconfig["compilerOptions"].(map[string]interface{}); ok {
				if outDir, ok := compilerOptions["outDir"].(string); ok {
					info.OutputDirs = append(info.OutputDirs, outDir)
				}
			}
		}
	}
	return info, true
}

func (pd *ProjectDetector) detectZig() (*ProjectInfo, bool) {
	if !pd.exists("build.zig") {
		return nil, false
	}
	return &ProjectInfo{Language: types.LanguageZig, Manifest: "build.zig"}, true
}

func (pd *ProjectDetector) detectJava() (*ProjectInfo, bool) {
	for _, manifest := range []string{"pom.xml", "build.gradle", "build.gradle.kts"} {
		if pd.exists(manifest) {
			return &ProjectInfo{Language: types.LanguageJava, Manifest: manifest}, true
		}
	}
	return nil, false
}

// detectPHP reads the package name from composer.json
func (pd *ProjectDetector) detectPHP() (*ProjectInfo, bool) {
	data, ok := pd.read("composer.json")
	if !ok {
		return nil, false
	}
	info := &ProjectInfo{Language: types.LanguagePHP, Manifest: "composer.json"}
	var composer struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(data, &composer) == nil && composer.Name != "" {
		info.Name = composer.Name[strings.LastIndex(composer.Name, "/")+1:]
	}
	return info, true
}

func (pd *ProjectDetector) detectCSharp() (*ProjectInfo, bool) {
	matches, _ := filepath.Glob(filepath.Join(pd.projectRoot, "*.csproj"))
	if len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(pd.projectRoot, "*.sln"))
	}
	if len(matches) == 0 {
		return nil, false
	}
	base := filepath.Base(matches[0])
	return &ProjectInfo{
		Name:     strings.TrimSuffix(base, filepath.Ext(base)),
		Language: types.LanguageCSharp,
		Manifest: base,
	}, true
}

func (pd *ProjectDetector) detectCpp() (*ProjectInfo, bool) {
	for _, manifest := range []string{"CMakeLists.txt", "meson.build", "Makefile"} {
		if pd.exists(manifest) {
			return &ProjectInfo{Language: types.LanguageCpp, Manifest: manifest}, true
		}
	}
	return nil, false
}
