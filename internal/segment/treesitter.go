package segment

import (
	"fmt"
	"sync"
	"unsafe"

	tree_sitter_zig "github.com/tree-sitter-grammars/tree-sitter-zig/bindings/go"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/types"
)

// grammar describes which top-level nodes of a language become units.
type grammar struct {
	language func() unsafe.Pointer
	// units maps node kind to unit kind
	units map[string]string
	// containers are descended into (namespaces, exports, decorators)
	containers map[string]bool
	// zigTypes marks variable_declaration nodes holding a type as units
	zigTypes bool
}

var grammars = map[types.Language]grammar{
	types.LanguagePython: {
		language: tree_sitter_python.Language,
		units: map[string]string{
			"class_definition":     KindClass,
			"function_definition":  KindFunction,
			"decorated_definition": KindClass,
		},
	},
	types.LanguageGo: {
		language: tree_sitter_go.Language,
		units: map[string]string{
			"function_declaration": KindFunction,
			"method_declaration":   KindFunction,
			"type_declaration":     KindType,
		},
	},
	types.LanguageJavaScript: {
		language: tree_sitter_javascript.Language,
		units: map[string]string{
			"class_declaration":              KindClass,
			"function_declaration":           KindFunction,
			"generator_function_declaration": KindFunction,
		},
		containers: map[string]bool{"export_statement": true},
	},
	types.LanguageTypeScript: {
		language: tree_sitter_typescript.LanguageTypescript,
		units: map[string]string{
			"class_declaration":          KindClass,
			"abstract_class_declaration": KindClass,
			"interface_declaration":      KindType,
			"enum_declaration":           KindType,
			"type_alias_declaration":     KindType,
			"function_declaration":       KindFunction,
			"internal_module":            KindClass,
		},
		containers: map[string]bool{"export_statement": true},
	},
	types.LanguageRust: {
		language: tree_sitter_rust.Language,
		units: map[string]string{
			"struct_item":   KindType,
			"enum_item":     KindType,
			"trait_item":    KindType,
			"impl_item":     KindClass,
			"function_item": KindFunction,
			"mod_item":      KindClass,
		},
	},
	types.LanguageJava: {
		language: tree_sitter_java.Language,
		units: map[string]string{
			"class_declaration":           KindClass,
			"interface_declaration":       KindType,
			"enum_declaration":            KindType,
			"record_declaration":          KindClass,
			"annotation_type_declaration": KindType,
		},
	},
	types.LanguageCpp: {
		language: tree_sitter_cpp.Language,
		units: map[string]string{
			"class_specifier":      KindClass,
			"struct_specifier":     KindClass,
			"function_definition":  KindFunction,
			"template_declaration": KindClass,
		},
		containers: map[string]bool{"namespace_definition": true, "declaration_list": true},
	},
	types.LanguageCSharp: {
		language: tree_sitter_csharp.Language,
		units: map[string]string{
			"class_declaration":     KindClass,
			"struct_declaration":    KindClass,
			"record_declaration":    KindClass,
			"interface_declaration": KindType,
			"enum_declaration":      KindType,
		},
		containers: map[string]bool{
			"namespace_declaration":             true,
			"file_scoped_namespace_declaration": true,
			"declaration_list":                  true,
		},
	},
	types.LanguagePHP: {
		language: tree_sitter_php.LanguagePHP,
		units: map[string]string{
			"class_declaration":     KindClass,
			"interface_declaration": KindType,
			"trait_declaration":     KindClass,
			"enum_declaration":      KindType,
			"function_definition":   KindFunction,
		},
		containers: map[string]bool{"namespace_definition": true, "compound_statement": true},
	},
	types.LanguageZig: {
		language: tree_sitter_zig.Language,
		units: map[string]string{
			"function_declaration": KindFunction,
			"test_declaration":     KindFunction,
		},
		zigTypes: true,
	},
}

// treeSitterSegmenter keeps one parser per segmenter. Parsers are not safe
// for concurrent use, so Segment serializes on mu.
type treeSitterSegmenter struct {
	lang    types.Language
	grammar grammar

	mu     sync.Mutex
	parser *tree_sitter.Parser
	err    error
}

func newTreeSitterSegmenter(lang types.Language, g grammar) *treeSitterSegmenter {
	return &treeSitterSegmenter{lang: lang, grammar: g}
}

func (s *treeSitterSegmenter) init() {
	if s.parser != nil || s.err != nil {
		return
	}
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(tree_sitter.NewLanguage(s.grammar.language())); err != nil {
		parser.Close()
		s.err = fmt.Errorf("load %s grammar: %w", s.lang, err)
		return
	}
	s.parser = parser
}

// Close releases the underlying parser.
func (s *treeSitterSegmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parser != nil {
		s.parser.Close()
		s.parser = nil
	}
}

func (s *treeSitterSegmenter) Segment(path string, content []byte) ([]Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.init()
	if s.err != nil {
		return nil, s.err
	}

	tree := s.parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("parse %s: no tree", path)
	}
	defer tree.Close()

	var spans []span
	s.collect(tree.RootNode(), content, &spans)
	debug.Log("SEGMENT", "%s: %d units from %s grammar\n", path, len(spans), s.lang)
	return assemble(content, spans), nil
}

// collect walks the named children of node, turning unit kinds into spans
// and descending into container kinds.
func (s *treeSitterSegmenter) collect(node *tree_sitter.Node, content []byte, spans *[]span) {
	count := node.NamedChildCount()
	for i := uint(0); i < count; i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		kind := child.Kind()

		if unitKind, ok := s.grammar.units[kind]; ok {
			*spans = append(*spans, span{
				name:  nodeName(child, content),
				kind:  unitKind,
				start: int(child.StartByte()),
				end:   int(child.EndByte()),
			})
			continue
		}

		if s.grammar.zigTypes && kind == "variable_declaration" && holdsZigType(child) {
			*spans = append(*spans, span{
				name:  nodeName(child, content),
				kind:  KindType,
				start: int(child.StartByte()),
				end:   int(child.EndByte()),
			})
			continue
		}

		if s.grammar.containers[kind] {
			if body := child.ChildByFieldName("body"); body != nil {
				s.collect(body, content, spans)
				continue
			}
			var inner []span
			s.collect(child, content, &inner)
			if kind == "export_statement" && len(inner) == 1 {
				// keep the export keyword with its declaration
				inner[0].start = int(child.StartByte())
				inner[0].end = int(child.EndByte())
			}
			*spans = append(*spans, inner...)
		}
	}
}

func holdsZigType(node *tree_sitter.Node) bool {
	count := node.NamedChildCount()
	for i := uint(0); i < count; i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "struct_declaration", "union_declaration", "enum_declaration", "opaque_declaration":
			return true
		}
	}
	return false
}

// nodeName returns the declared name: the "name" field when the grammar has
// one, otherwise the first identifier-like child. Wrappers (decorators,
// templates, Go type declarations) are searched one level down.
func nodeName(node *tree_sitter.Node, content []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Utf8Text(content)
	}
	if def := node.ChildByFieldName("definition"); def != nil {
		return nodeName(def, content)
	}
	count := node.NamedChildCount()
	for i := uint(0); i < count; i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "identifier", "type_identifier", "name":
			return child.Utf8Text(content)
		case "type_spec", "class_specifier", "struct_specifier", "function_definition", "function_declarator":
			if n := nodeName(child, content); n != "" {
				return n
			}
		}
	}
	if decl := node.ChildByFieldName("declarator"); decl != nil {
		return nodeName(decl, content)
	}
	return ""
}
