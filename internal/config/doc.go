// Package config loads the daemon configuration.
//
// Sources are applied in order, later wins: built-in defaults, an optional
// JSON or YAML file, an optional dotenv file, the process environment.
// The environment keys (JIRA_HOST, TELEGRAM_CHAT_ID, CHECK_INTERVAL_MS, ...)
// cover everything needed to run; the file only adds tuning knobs.
//
// Manager keeps the committed config and republishes it when a source file
// changes; SummarizeChange tells callers which settings can be applied live.
package config
