// Package tgui provides small Telegram UI helpers:
//   - Inline and reply keyboard builders
//   - Callback data helpers (menu:action:payload)
//   - An HTML message builder with escaping by default
package tgui
