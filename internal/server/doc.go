// Package server implements the live broadcast subsystem of the chat service.
//
// Push connections are admitted on /ws/{room} after their bearer token is
// verified, tracked in a room-scoped Registry, and served by a per-connection
// loop that fans every inbound text frame out to the other members of the
// same room as an Envelope. Delivery is best-effort: peers that are slow or
// already gone simply miss the message.
package server
