package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CursorPlaceholder is replaced in query templates by the cursor of the page
// to fetch: null for the first page, a string literal afterwards.
const CursorPlaceholder = "$cursor"

// ErrStop may be returned by a Paginate callback to end pagination early.
// Paginate itself then returns nil.
var ErrStop = errors.New("stop pagination")

// Extractor maps the "data" member of one page response to the items of
// that page and the page object carrying the cursor (for example the
// "repositories" object of a repositories query). A nil or null page means
// the paginated resource does not exist.
type Extractor[T any] func(data json.RawMessage) (items []T, page json.RawMessage, err error)

// Paginate runs query until the service reports no further cursor, calling
// fn for each item in page order. Requests are strictly sequential.
//
// The items of a page are only handed to fn after the cursor of that page
// has been validated, so a malformed page yields none of its items.
func Paginate[T any](ctx context.Context, c *Client, query string, extract Extractor[T], fn func(T) error) error {
	if !strings.Contains(query, CursorPlaceholder) {
		return fmt.Errorf("query template has no %s placeholder", CursorPlaceholder)
	}

	cursor := ""
	for page := 1; ; page++ {
		q := strings.ReplaceAll(query, CursorPlaceholder, cursorLiteral(cursor))

		data, err := c.Do(ctx, q)
		if err != nil {
			return err
		}

		items, pageData, err := extract(data)
		if err != nil {
			return fmt.Errorf("could not extract page %d: %w", page, err)
		}
		if isNull(pageData) {
			c.logger.Debugf("Page %d has no paginated resource, stopping", page)
			return nil
		}

		next, err := FindCursor(pageData)
		if err != nil {
			return err
		}

		for _, item := range items {
			if err := fn(item); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}

		if next == "" {
			return nil
		}
		if next == cursor {
			return &ProtocolError{Cursors: 1, Msg: fmt.Sprintf("cursor %q repeated on page %d", next, page)}
		}
		cursor = next
	}
}

// Collect runs Paginate and returns every item.
func Collect[T any](ctx context.Context, c *Client, query string, extract Extractor[T]) ([]T, error) {
	var all []T
	err := Paginate(ctx, c, query, extract, func(item T) error {
		all = append(all, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

func cursorLiteral(cursor string) string {
	if cursor == "" {
		return "null"
	}
	quoted, _ := json.Marshal(cursor)
	return string(quoted)
}
