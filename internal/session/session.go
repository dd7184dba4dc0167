// Package session tracks connected client sessions. It handles session
// creation, lookup, expiration, and storage of ephemeral connection state
// (authenticated user, open conversation, owning server) backed by Redis.
package session
