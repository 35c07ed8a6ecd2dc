// Package db defines the narrow slice of a database mapping layer's
// surface that HDS's store package actually calls, grounded on boulder's
// db package: By convention, any function that takes a OneSelector,
// Selector, or Execer expects the caller has already set up the
// connection (a *borp.DbMap in production, a fake in tests).
package db

import "database/sql"

// OneSelector is anything that provides a SelectOne function.
type OneSelector interface {
	SelectOne(holder interface{}, query string, args ...interface{}) error
}

// Selector is anything that provides a Select function.
type Selector interface {
	Select(holder interface{}, query string, args ...interface{}) ([]interface{}, error)
}

// Execer is anything that provides an Exec function.
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Map offers the combination of OneSelector, Selector, and Execer that
// HDS's store needs. *borp.DbMap satisfies it.
type Map interface {
	OneSelector
	Selector
	Execer
}
