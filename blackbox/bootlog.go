package blackbox

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// BootEntry is one log entry captured before the flight log was opened.
type BootEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e BootEntry) String() string {
	return fmt.Sprintf("%s %s %s %v", e.Time.Format("15:04:05.000"), e.Level, e.Message, e.Fields)
}

type bootBuffer struct {
	lock    sync.Mutex
	entries []BootEntry
	max     int
	dropped int
	sealed  bool
}

// BootLog is a zapcore.Core keeping the first entries of a run in memory
// until Seal. Tee it with the console core:
//
//	logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
//		return zapcore.NewTee(c, boot)
//	}))
type BootLog struct {
	zapcore.LevelEnabler
	buf    *bootBuffer
	fields []zapcore.Field
}

// NewBootLog keeps up to max entries at level or above.
func NewBootLog(level zapcore.LevelEnabler, max int) *BootLog {
	return &BootLog{
		LevelEnabler: level,
		buf:          &bootBuffer{max: max},
	}
}

func (b *BootLog) With(fields []zapcore.Field) zapcore.Core {
	return &BootLog{
		LevelEnabler: b.LevelEnabler,
		buf:          b.buf,
		fields:       append(append([]zapcore.Field(nil), b.fields...), fields...),
	}
}

func (b *BootLog) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !b.Enabled(ent.Level) || b.Sealed() {
		return ce
	}
	return ce.AddCore(ent, b)
}

func (b *BootLog) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range b.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	e := BootEntry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Logger:  ent.LoggerName,
		Message: ent.Message,
	}
	if len(enc.Fields) > 0 {
		e.Fields = enc.Fields
	}

	buf := b.buf
	buf.lock.Lock()
	defer buf.lock.Unlock()
	if buf.sealed {
		return nil
	}
	if len(buf.entries) >= buf.max {
		buf.dropped++
		return nil
	}
	buf.entries = append(buf.entries, e)
	return nil
}

func (b *BootLog) Sync() error { return nil }

// Seal stops capturing. Entries logged afterwards only reach the other cores.
func (b *BootLog) Seal() {
	b.buf.lock.Lock()
	defer b.buf.lock.Unlock()
	b.buf.sealed = true
}

func (b *BootLog) Sealed() bool {
	b.buf.lock.Lock()
	defer b.buf.lock.Unlock()
	return b.buf.sealed
}

// Entries returns the captured entries and how many did not fit.
func (b *BootLog) Entries() ([]BootEntry, int) {
	b.buf.lock.Lock()
	defer b.buf.lock.Unlock()
	return append([]BootEntry(nil), b.buf.entries...), b.buf.dropped
}
