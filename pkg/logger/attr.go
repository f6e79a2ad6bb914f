package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
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

// Error records a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// An empty id yields an empty Attr.
func UserID(id string) slog.Attr {
	return optionalString("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	return optionalString("request_id", id)
}

// Provider records the payment provider name.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// EventID records a webhook event id.
func EventID(id string) slog.Attr {
	return optionalString("event_id", id)
}

// EventType records the provider's own event type.
func EventType(eventType string) slog.Attr {
	return optionalString("event_type", eventType)
}

// EventKind records the normalized event kind.
func EventKind(kind string) slog.Attr {
	return slog.String("event_kind", kind)
}

func PlanID(id string) slog.Attr {
	return optionalString("plan_id", id)
}

func PriceID(id string) slog.Attr {
	return optionalString("price_id", id)
}

func CustomerRef(ref string) slog.Attr {
	return optionalString("customer_ref", ref)
}

func SubscriptionRef(ref string) slog.Attr {
	return optionalString("subscription_ref", ref)
}

func SessionRef(ref string) slog.Attr {
	return optionalString("session_ref", ref)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func optionalString(key, value string) slog.Attr {
	if value == "" {
		return slog.Attr{}
	}
	return slog.String(key, value)
}
