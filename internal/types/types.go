package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Common system-wide constants
const (
	// DefaultMaxIterations is the number of retry rounds after the first proposal.
	// A task therefore sees at most DefaultMaxIterations+1 proposal rounds.
	DefaultMaxIterations = 3

	// DefaultWindowStep is how many lines the locator widens its search window
	// on each side per expansion.
	DefaultWindowStep = 5

	// DefaultValidateTimeout bounds every external validator process.
	DefaultValidateTimeout = 120 * time.Second

	// DefaultMaxFileSize caps files considered for indexing and patching.
	DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB

	// DefaultMaxDocuments is the number of documents a retriever returns.
	DefaultMaxDocuments = 4

	// PlaceholderText is what a model emits when it has nothing to put in a slot.
	PlaceholderText = "..."
)

// Language identifies a project flavour. It selects the source suffixes,
// the segmenter and the validator command.
type Language string

const (
	LanguageFlutter    Language = "flutter"
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageRust       Language = "rust"
	LanguageJava       Language = "java"
	LanguageCpp        Language = "cpp"
	LanguageCSharp     Language = "csharp"
	LanguagePHP        Language = "php"
	LanguageZig        Language = "zig"
)

var languageSuffixes = map[Language][]string{
	LanguageFlutter:    {".dart"},
	LanguagePython:     {".py"},
	LanguageGo:         {".go"},
	LanguageJavaScript: {".js", ".jsx", ".mjs", ".cjs"},
	LanguageTypeScript: {".ts", ".tsx"},
	LanguageRust:       {".rs"},
	LanguageJava:       {".java"},
	LanguageCpp:        {".cpp", ".cc", ".cxx", ".hpp", ".hh", ".h"},
	LanguageCSharp:     {".cs"},
	LanguagePHP:        {".php"},
	LanguageZig:        {".zig"},
}

// Languages returns every supported language in a stable order.
func Languages() []Language {
	return []Language{
		LanguageFlutter, LanguagePython, LanguageGo, LanguageJavaScript,
		LanguageTypeScript, LanguageRust, LanguageJava, LanguageCpp,
		LanguageCSharp, LanguagePHP, LanguageZig,
	}
}

// ParseLanguage normalizes a user supplied language name.
// "dart" is accepted as an alias for flutter projects.
func ParseLanguage(s string) (Language, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "dart":
		return LanguageFlutter, nil
	case "py":
		return LanguagePython, nil
	case "golang":
		return LanguageGo, nil
	case "js", "node":
		return LanguageJavaScript, nil
	case "ts":
		return LanguageTypeScript, nil
	case "c++":
		return LanguageCpp, nil
	case "c#", "cs":
		return LanguageCSharp, nil
	}
	lang := Language(name)
	if _, ok := languageSuffixes[lang]; !ok {
		return "", fmt.Errorf("unsupported language %q", s)
	}
	return lang, nil
}

// Suffixes returns the recognized source-file suffixes for the language.
func (l Language) Suffixes() []string {
	return languageSuffixes[l]
}

// IsSourceFile reports whether path carries one of the language's suffixes.
func (l Language) IsSourceFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range languageSuffixes[l] {
		if ext == s {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer
func (l Language) String() string {
	return string(l)
}
