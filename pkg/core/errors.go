package core

import "fmt"

// IndexNotFoundError is returned when a named index does not exist.
type IndexNotFoundError struct {
	Name string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.Name)
}

// IndexExistsError is returned when creating an index whose name is taken by
// one with a different configuration. Existing carries the conflicting
// config so callers can report what is already there.
type IndexExistsError struct {
	Name     string
	Existing IndexConfig
}

func (e *IndexExistsError) Error() string {
	return fmt.Sprintf("index %q already exists with a different configuration", e.Name)
}
