// Package logx configures botox's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional chat sink that whispers important events to a Twitch user
//
// Every sink passes through a redacting writer so oauth tokens never reach
// a terminal, a file or a chat.
package logx
