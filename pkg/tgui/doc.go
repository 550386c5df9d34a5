// Package tgui builds Telegram HTML message text: escaping, a few tags and
// rune-safe truncation.
package tgui
