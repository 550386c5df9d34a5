// Package logx is jiranotify's logging layer on top of zerolog.
//
// Components take a Logger value and derive their own with With. The
// Service behind it owns the outputs: a console writer, an optional JSON
// file and an optional Telegram chat that receives warnings as HTML, rate
// limited and never blocking the caller.
package logx
