// Package proxy implements the rawprox forwarding core: the port rule table,
// one accept loop per rule, and the relay that copies bytes between a client
// and its target while reporting every chunk to an Emitter.
//
// Relays emit exactly one open event before any data, data events in the
// order chunks were read for each direction, and exactly one close event
// after both directions have finished.
package proxy
