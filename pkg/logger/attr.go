package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Chain records the blockchain identifier under the key "chain".
func Chain(chain any) slog.Attr {
	if chain == nil {
		return slog.Attr{}
	}
	return slog.Any("chain", chain)
}

// ShopID records the shop identifier under the key "shop_id".
func ShopID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("shop_id", id)
}

// SubscriptionID records the subscription identifier under the key
// "subscription_id".
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// InvoiceID records the invoice identifier under the key "invoice_id".
func InvoiceID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("invoice_id", id)
}

// TxHash records a transaction hash under the key "tx_hash".
func TxHash(hash string) slog.Attr {
	if hash == "" {
		return slog.Attr{}
	}
	return slog.String("tx_hash", hash)
}

// UserID records the user identifier under the key "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("request_id", id)
}
