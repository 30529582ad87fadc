package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindInt64
	kindFloat
	kindBool
	kindTime
	kindDuration
	kindError
)

// Field is one key/value on a log event.
type Field struct {
	Key  string
	kind fieldKind
	s    string
	i    int64
	f    float64
	t    time.Time
	err  error
}

func (f Field) addTo(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.Key, f.s)
	case kindInt, kindInt64:
		e.Int64(f.Key, f.i)
	case kindFloat:
		e.Float64(f.Key, f.f)
	case kindBool:
		e.Bool(f.Key, f.i != 0)
	case kindTime:
		e.Time(f.Key, f.t)
	case kindDuration:
		// milliseconds, matching the *_ms keys callers use
		e.Int64(f.Key, f.i)
	case kindError:
		if f.err != nil {
			e.AnErr(f.Key, f.err)
		}
	}
}

// value is the JSON-friendly form the collector aggregates on.
func (f Field) value() interface{} {
	switch f.kind {
	case kindString:
		return f.s
	case kindInt:
		return int(f.i)
	case kindInt64, kindDuration:
		return f.i
	case kindFloat:
		return f.f
	case kindBool:
		return f.i != 0
	case kindTime:
		return f.t.UTC().Format(time.RFC3339)
	case kindError:
		if f.err != nil {
			return f.err.Error()
		}
	}
	return nil
}

func String(key, v string) Field { return Field{Key: key, kind: kindString, s: v} }

func Strings(key string, v []string) Field { return String(key, strings.Join(v, ",")) }

func Int(key string, v int) Field { return Field{Key: key, kind: kindInt, i: int64(v)} }

func Int64(key string, v int64) Field { return Field{Key: key, kind: kindInt64, i: v} }

func Float64(key string, v float64) Field { return Field{Key: key, kind: kindFloat, f: v} }

func Bool(key string, v bool) Field {
	f := Field{Key: key, kind: kindBool}
	if v {
		f.i = 1
	}
	return f
}

func Time(key string, v time.Time) Field { return Field{Key: key, kind: kindTime, t: v} }

// Duration logs d in whole milliseconds.
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, kind: kindDuration, i: d.Milliseconds()}
}

func Error(err error) Field { return Field{Key: "error", kind: kindError, err: err} }
