package graphql

import (
	"encoding/json"
	"fmt"
)

// maxCursorDepth bounds how deep FindCursor descends into a page object.
const maxCursorDepth = 8

// resultsField holds the page items. Items are data, not page structure, so
// fields inside them are never taken for the page cursor.
const resultsField = "results"

// FindCursor returns the cursor of a page object, or "" when the page has no
// cursor field or the cursor is null. The page object and its nested
// objects are searched for a field named "cursor", skipping the page items.
// More than one such field is a ProtocolError.
func FindCursor(page json.RawMessage) (string, error) {
	var tree any
	if err := json.Unmarshal(page, &tree); err != nil {
		return "", fmt.Errorf("could not decode page: %w", err)
	}

	var found []any
	if err := collectCursors(tree, 0, &found); err != nil {
		return "", err
	}

	switch len(found) {
	case 0:
		return "", nil
	case 1:
		switch v := found[0].(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		default:
			return "", &ProtocolError{Cursors: 1, Msg: fmt.Sprintf("cursor is a %T, not a string", v)}
		}
	default:
		return "", &ProtocolError{Cursors: len(found), Msg: "ambiguous cursor location"}
	}
}

func collectCursors(node any, depth int, found *[]any) error {
	if depth > maxCursorDepth {
		return &ProtocolError{Cursors: len(*found), Msg: "page nesting too deep"}
	}

	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			switch key {
			case "cursor":
				*found = append(*found, child)
			case resultsField:
			default:
				if err := collectCursors(child, depth+1, found); err != nil {
					return err
				}
			}
		}
	case []any:
		for _, child := range v {
			if err := collectCursors(child, depth+1, found); err != nil {
				return err
			}
		}
	}

	return nil
}
