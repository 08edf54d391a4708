package graph

import (
	"context"
	"errors"
	"fmt"
)

// Client is the minimal read contract Neo4jStore needs from a graph database.
type Client interface {
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Result is a simplified representation of a query response.
type Result struct {
	Records []Record
}

// Record groups key-value pairs returned from the graph engine.
type Record map[string]any

// String returns the string value at key, or "" when missing or null.
func (r Record) String(key string) string {
	v, _ := r[key].(string)
	return v
}

// Int64 returns the integer value at key, or 0 when missing or null.
// The Bolt protocol returns every integer as int64.
func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Options configures a graph client implementation.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")

// errUnexpectedShape is returned when a query yields a record without the expected keys
func errUnexpectedShape(query string) error {
	return fmt.Errorf("unexpected result shape for %s", query)
}
