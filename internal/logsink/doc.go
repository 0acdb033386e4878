// Package logsink buffers serialized events per log destination and
// periodically persists them.
//
// A destination is either the console or a directory. Producers only append
// to in-memory buffers; a single shared ticker (Manager.Run) performs all
// console and disk I/O. Directory destinations derive the file to append to
// from a strftime-like pattern evaluated against the flush time, so "rotation"
// happens implicitly and no file handle is held between flushes.
package logsink
