package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Condition fields accepted by BuildUpdateStatement.
const (
	FieldID   = "id"
	FieldHash = "hash"
	FieldName = "name"
)

// binaryObjectType matches executables by name without quoting the pattern.
const binaryObjectType = "binary"

var (
	ErrMissingCategory      = errors.New("query: category is required")
	ErrMissingObjectType    = errors.New("query: object type is required")
	ErrMissingValue         = errors.New("query: condition value is required")
	ErrMissingTemplate      = errors.New("query: select template is required")
	ErrReservedMarker       = errors.New("query: select template contains a reserved $...$ marker")
	ErrUnsupportedCondition = errors.New("query: unsupported condition field")
)

var markerPattern = regexp.MustCompile(`\$(.*?)\$`)

// Kind distinguishes read statements from write statements.
type Kind int

const (
	Select Kind = iota
	Update
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "select"
	case Update:
		return "update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Statement is a generated engine query. The zero value is not a valid statement.
type Statement struct {
	kind Kind
	text string
}

// Kind reports whether the statement reads or writes.
func (s Statement) Kind() Kind { return s.kind }

// String returns the statement text as sent to an engine.
func (s Statement) String() string { return s.text }

// IsZero reports whether s was never built.
func (s Statement) IsZero() bool { return s.text == "" }

// BuildClearStatement blanks category on every object of objectType.
func BuildClearStatement(category, objectType string) (Statement, error) {
	if err := requireScope(category, objectType); err != nil {
		return Statement{}, err
	}
	text := fmt.Sprintf(`(update (set #"%s" nil) (from %s))`, category, objectType)
	return Statement{kind: Update, text: text}, nil
}

// BuildIdentifierSelectStatement normalises a configured id-lookup template into a
// select statement. Line breaks and indentation in the template collapse to single spaces.
func BuildIdentifierSelectStatement(template string) (Statement, error) {
	text := Normalize(template)
	if text == "" {
		return Statement{}, ErrMissingTemplate
	}
	if HasMarker(text) {
		return Statement{}, ErrReservedMarker
	}
	return Statement{kind: Select, text: text}, nil
}

// BuildUpdateStatement sets category to keyword for the objects of objectType whose
// conditionField matches conditionValue.
func BuildUpdateStatement(keyword, category, objectType, conditionField, conditionValue string) (Statement, error) {
	if err := requireScope(category, objectType); err != nil {
		return Statement{}, err
	}
	cond, err := condition(conditionField, conditionValue, objectType)
	if err != nil {
		return Statement{}, err
	}
	text := fmt.Sprintf(`(update (set #"%s" (enum "%s")) (from %s (where %s %s)))`,
		category, keyword, objectType, objectType, cond)
	return Statement{kind: Update, text: text}, nil
}

func condition(field, value, objectType string) (string, error) {
	if value == "" {
		return "", ErrMissingValue
	}
	switch field {
	case FieldID:
		return fmt.Sprintf("(eq id (identifier %s))", value), nil
	case FieldHash:
		return fmt.Sprintf("(eq hash (md5 %s))", value), nil
	case FieldName:
		if objectType == binaryObjectType {
			return fmt.Sprintf("(eq executable_name (pattern %s))", value), nil
		}
		return fmt.Sprintf(`(eq name (pattern "%s"))`, value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCondition, field)
	}
}

func requireScope(category, objectType string) error {
	if strings.TrimSpace(category) == "" {
		return ErrMissingCategory
	}
	if strings.TrimSpace(objectType) == "" {
		return ErrMissingObjectType
	}
	return nil
}

// SupportedCondition reports whether field can be used as an update condition.
func SupportedCondition(field string) bool {
	switch field {
	case FieldID, FieldHash, FieldName:
		return true
	default:
		return false
	}
}

// Normalize collapses all whitespace runs in text to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// HasMarker reports whether text contains a $...$ substitution marker.
func HasMarker(text string) bool {
	return markerPattern.MatchString(text)
}

// Substitute replaces every $...$ marker in template with value.
func Substitute(template, value string) string {
	return markerPattern.ReplaceAllLiteralString(Normalize(template), value)
}
