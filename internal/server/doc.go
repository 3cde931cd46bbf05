// Package server implements a room-based WebSocket chat relay.
//
// Clients connect over WebSocket and exchange JSON envelopes of the form
// {type, payload}. A join frame associates the connection with a display
// name and a room code; chat frames are fanned out to every current member
// of the same room, and join/leave events produce system messages plus a
// room occupancy snapshot. Rooms are implicit: they exist exactly while at
// least one member carries their code.
//
// The implementation is organized into specialized files for configuration,
// the wire protocol, the membership registry, per-connection pumps, the
// hub, routing, and HTTP handlers.
package server
