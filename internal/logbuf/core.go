package logbuf

import (
	"maps"

	"go.uber.org/zap/zapcore"
)

// Core is a zapcore.Core that captures every entry into a Buffer. Tee it
// with the output core; it is enabled for all levels so the buffer keeps
// debug entries the output may filter out.
type Core struct {
	buf    *Buffer
	fields map[string]any
}

// NewCore creates a core writing to buf.
func NewCore(buf *Buffer) *Core {
	return &Core{buf: buf}
}

func (c *Core) Enabled(zapcore.Level) bool { return true }

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	return &Core{buf: c.buf, fields: encode(c.fields, fields)}
}

func (c *Core) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(e, c)
}

func (c *Core) Write(e zapcore.Entry, fields []zapcore.Field) error {
	f := encode(c.fields, fields)
	if len(f) == 0 {
		f = nil
	}
	c.buf.Write(Entry{
		Time:    e.Time,
		Level:   e.Level.String(),
		Logger:  e.LoggerName,
		Message: e.Message,
		Fields:  f,
	})
	return nil
}

func (c *Core) Sync() error { return nil }

// encode merges fields into a copy of base. Errors become their message
// so they survive JSON encoding.
func encode(base map[string]any, fields []zapcore.Field) map[string]any {
	enc := zapcore.NewMapObjectEncoder()
	maps.Copy(enc.Fields, base)
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}
