package logger

import (
	"time"

	"go.uber.org/zap"
)

// String constructs a string field.
func String(key, value string) Field {
	return zap.String(key, value)
}

// Int constructs an int field.
func Int(key string, value int) Field {
	return zap.Int(key, value)
}

// Int64 constructs an int64 field.
func Int64(key string, value int64) Field {
	return zap.Int64(key, value)
}

// Bool constructs a bool field.
func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

// Duration constructs a duration field.
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

// Time constructs a time field.
func Time(key string, value time.Time) Field {
	return zap.Time(key, value)
}

// Err constructs an error field with the standard "error" key.
func Err(err error) Field {
	return zap.Error(err)
}
