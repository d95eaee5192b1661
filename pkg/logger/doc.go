// Package logger builds structured slog loggers with billing-domain attribute
// helpers and context-based attribute injection.
//
// The factory returns a standard *slog.Logger, so packages depend only on
// log/slog; this package is wiring, not an abstraction layer.
//
// Attribute helpers keep log keys consistent across the codebase:
//
//	log.InfoContext(ctx, "payment confirmed",
//		logger.Chain(inv.Chain),
//		logger.InvoiceID(inv.ID),
//		logger.TxHash(txHash))
package logger
