// Package chat implements the streaming session synchronization engine for
// the QuantDeck assistant.
//
// The package has four pieces:
//
//   - Channel: the duplex websocket transport to the conversation gateway,
//     with bounded auto-reconnect.
//   - Dispatcher: decodes inbound frames and routes each to exactly one
//     handler by its type discriminant.
//   - Reconciler: the canonical in-memory message list and the state machine
//     that applies inbound events and produces outbound intents.
//   - The id correlation bookkeeping that maps client-generated placeholder
//     identifiers to server-assigned ones as they arrive.
//
// Messages move pending -> streaming -> completed | cancelled | error.
// Terminal states are entered once; regeneration creates a new message
// rather than reviving a terminal one. At most one assistant message is
// pending or streaming per session.
package chat
