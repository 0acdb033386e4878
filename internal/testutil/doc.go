// Package testutil holds loopback servers and NDJSON helpers shared by
// rawprox tests.
package testutil
