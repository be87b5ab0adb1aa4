package safe

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"statusbridge/logger"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// DefaultString returns s, or fallback when s is empty.
func DefaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// SafeGo starts f in a goroutine that recovers and logs panics,
// so that a panicking publisher or worker doesn't crash the process.
func SafeGo(name string, f func()) {
	go Run(name, f)
}

// Run calls f and recovers a panic, logging it under name.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", zap.String("goroutine", name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	f()
}
