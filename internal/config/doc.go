// Package config provides 12-factor configuration for the assistant client.
//
// Configuration is loaded from environment variables with sensible defaults;
// CLI flags can override individual values at the wiring point.
//
// Environment Variables:
//   - GATEWAY_URL, GATEWAY_WS_URL
//   - CHAT_MODEL, CHAT_MAX_RECONNECT, CHAT_RECONNECT_DELAY,
//     CHAT_HISTORY_LIMIT, CHAT_CONNECT_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
package config
