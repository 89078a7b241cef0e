// Package player owns runtime sessions: one playback attempt of one content
// object for one player.
//
// Opening a unit resolves the selection, tears down the player's previous
// session and wires a fresh bridge (API, outbox, host). In headless mode the
// content page is fetched and its scripts are run in a pooled sandbox with
// the API bound; in external mode a web view loads the content URL and
// relays bridge messages back through Deliver.
//
// Teardown never drains: messages still queued when a session closes are
// lost.
package player
