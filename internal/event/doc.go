// Package event defines the records written to the rawprox event log and
// their byte-exact wire encoding.
//
// Every record is one compact JSON object terminated by LF. Traffic records
// (open, close, data) always carry exactly five keys in a fixed order:
// time, ConnID, event or data, from, to. Payload bytes are encoded by Encode
// so that JSON-decoding the data value and then percent-decoding it yields
// the original bytes.
package event
