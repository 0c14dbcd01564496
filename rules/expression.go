package rules

import (
	"errors"
	"fmt"
	"strings"
)

// MaxExpressionLength bounds a canonical rule expression
const MaxExpressionLength = 4000

// disallowedExpressionChars may not appear in an expression outside string literals
const disallowedExpressionChars = ";`${}"

// CheckExpression applies the injection guard to a canonical expression: it rejects the
// statement and template characters outside string literals and validates every input.*
// path the expression references.
func CheckExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > MaxExpressionLength {
		return fmt.Errorf("expression length %d exceeds maximum of %d", len(expr), MaxExpressionLength)
	}
	paths, err := scanExpression(expr)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := ValidateFieldPath(p); err != nil {
			return err
		}
	}
	return nil
}

// ReferencedPaths returns the input.* paths of expr in order of appearance.
// It returns nil when expr cannot be scanned.
func ReferencedPaths(expr string) []string {
	paths, err := scanExpression(expr)
	if err != nil {
		return nil
	}
	return paths
}

func scanExpression(expr string) ([]string, error) {
	var paths []string
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '"' || c == '\'':
			end, err := skipString(expr, i)
			if err != nil {
				return nil, err
			}
			i = end

		case strings.IndexByte(disallowedExpressionChars, c) >= 0:
			return nil, fmt.Errorf("expression contains disallowed character %q", c)

		case isIdentStart(c) && (i == 0 || (!isIdentPart(expr[i-1]) && expr[i-1] != '.')):
			j := i
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			if expr[i:j] != "input" {
				i = j
				continue
			}
			end, err := scanPath(expr, j)
			if err != nil {
				return nil, err
			}
			paths = append(paths, expr[i:end])
			i = end

		default:
			i++
		}
	}
	return paths, nil
}

// scanPath consumes .ident and [index] segments starting at i. A segment followed by '('
// is a method call and ends the path.
func scanPath(expr string, i int) (int, error) {
	for i < len(expr) {
		switch expr[i] {
		case '.':
			j := i + 1
			if j >= len(expr) || !isIdentStart(expr[j]) {
				return i, nil
			}
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			if j < len(expr) && expr[j] == '(' {
				return i, nil
			}
			i = j
		case '[':
			j := i + 1
			for j < len(expr) && expr[j] != ']' {
				if expr[j] == '"' || expr[j] == '\'' {
					end, err := skipString(expr, j)
					if err != nil {
						return 0, err
					}
					j = end
					continue
				}
				j++
			}
			if j >= len(expr) {
				return 0, errors.New("expression has an unterminated index")
			}
			i = j + 1
		default:
			return i, nil
		}
	}
	return i, nil
}

// skipString returns the index just past the string literal opening at start
func skipString(expr string, start int) (int, error) {
	quote := expr[start]
	for j := start + 1; j < len(expr); j++ {
		switch expr[j] {
		case '\\':
			j++
		case quote:
			return j + 1, nil
		}
	}
	return 0, errors.New("expression has an unterminated string literal")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
