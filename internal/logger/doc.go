// Package logger builds the zap loggers used by textproxy.
//
// Components receive a *zap.Logger and derive per-session children with
// With; nothing in the tree writes to a global logger.
package logger
