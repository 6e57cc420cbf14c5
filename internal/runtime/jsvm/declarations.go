package jsvm

import (
	"regexp"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

var (
	identifierPattern  = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)
	declarationPattern = regexp.MustCompile(`function\s+([A-Za-z_$][\w$]*)\s*\(`)
)

// DeclaredNames lists the top-level callables a source declares, in source order.
//
// Function declarations come first, followed by const/let/var bindings whose
// initializer is a function or arrow literal. Nested declarations, comments
// and string literals never contribute names.
func DeclaredNames(source string) ([]string, error) {
	program, err := parser.ParseFile(new(file.FileSet), "submission.js", source, 0)
	if err != nil {
		return nil, err
	}

	var functions, bindings []string
	for _, stmt := range program.Body {
		switch s := stmt.(type) {
		case *ast.FunctionDeclaration:
			if s.Function != nil && s.Function.Name != nil {
				functions = append(functions, s.Function.Name.Name.String())
			}
		case *ast.LexicalDeclaration:
			bindings = append(bindings, functionBindings(s.List)...)
		case *ast.VariableStatement:
			bindings = append(bindings, functionBindings(s.List)...)
		}
	}

	return append(functions, bindings...), nil
}

func functionBindings(list []*ast.Binding) []string {
	var names []string
	for _, binding := range list {
		id, ok := binding.Target.(*ast.Identifier)
		if !ok {
			continue
		}
		switch binding.Initializer.(type) {
		case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
			names = append(names, id.Name.String())
		}
	}
	return names
}

// ScannedNames is the raw-text fallback: every `function name(` occurrence,
// including ones inside comments or strings. Best effort only.
func ScannedNames(source string) []string {
	matches := declarationPattern.FindAllStringSubmatch(source, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, match := range matches {
		if name := match[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}
