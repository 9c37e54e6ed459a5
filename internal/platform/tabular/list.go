package tabular

import (
	"fmt"
	"strings"
)

const (
	// ListSeparator joins the items of a multi-valued cell. It is distinct
	// from the CSV field delimiter.
	ListSeparator = "|"

	// EmptyList is the cell value written for a list with no items.
	EmptyList = "None"
)

// EncodeList joins items into a single cell value. An empty list encodes to
// EmptyList. Items that are empty, equal EmptyList, or contain the separator
// would not decode back to the same list and are rejected.
func EncodeList(items []string) (string, error) {
	if len(items) == 0 {
		return EmptyList, nil
	}
	for _, it := range items {
		if it == "" || it == EmptyList || strings.Contains(it, ListSeparator) {
			return "", fmt.Errorf("%w: %q", ErrUnencodable, it)
		}
	}
	return strings.Join(items, ListSeparator), nil
}

// DecodeList splits a cell value into its items. EmptyList and the empty
// cell both decode to an empty, non-nil list.
func DecodeList(cell string) []string {
	if cell == "" || cell == EmptyList {
		return []string{}
	}
	return strings.Split(cell, ListSeparator)
}
