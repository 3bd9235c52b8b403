package logging

import "log/slog"

// Field names shared by every component so log queries stay uniform.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldDeliveryID = "delivery_id"
	FieldResourceID = "resource_external_id"
	FieldResource   = "resource_type"
	FieldEventType  = "event_type"
	FieldEventCount = "event_count"
	FieldWorker     = "worker"
	FieldProjection = "projection_kind"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for err. A nil error logs as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

func DeliveryID(id string) slog.Attr {
	return slog.String(FieldDeliveryID, id)
}

func ResourceID(id string) slog.Attr {
	return slog.String(FieldResourceID, id)
}

func ResourceType(t string) slog.Attr {
	return slog.String(FieldResource, t)
}

func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

func EventCount(n int) slog.Attr {
	return slog.Int(FieldEventCount, n)
}

func Worker(id int) slog.Attr {
	return slog.Int(FieldWorker, id)
}

func Projection(kind string) slog.Attr {
	return slog.String(FieldProjection, kind)
}
