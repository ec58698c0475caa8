// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger (usually derived via With) and never touch
// zerolog directly. The Service owns the sinks and can swap level/outputs
// at runtime on config reload.
package logx
