// Package connid generates the short identifiers that correlate every log
// event belonging to one proxied connection.
//
// IDs are fixed-width base-62 strings using the alphabet 0-9, A-Z, a-z, in
// that order, so that a digit's value is its index in the alphabet and
// lexical order of equal-width IDs matches numeric order. A Generator is
// seeded from the wall clock and then counts upward, which keeps IDs unique
// and strictly increasing for the lifetime of the process.
package connid
