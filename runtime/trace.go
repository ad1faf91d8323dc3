package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

type serializedValue struct {
	Preview string
	Value   json.RawMessage `json:",omitempty"`
}

// serialize tries to serialize as much as it can of v.
func serialize(v interface{}) (sv *serializedValue) {
	sv = new(serializedValue)
	sv.Preview = fmt.Sprintf("%#v", v)
	if err, ok := v.(error); ok {
		sv.Preview = err.Error()
	}
	data, err := json.Marshal(v)
	if err == nil {
		sv.Value = data
	}
	return
}

type traceEvent struct {
	Time     time.Time
	Task     string
	Kind     string
	Duration time.Duration    `json:",omitempty"`
	Detail   *serializedValue `json:",omitempty"`
}

// SetTrace makes the instance write one JSON line per overrun or panic to w.
func (i *Instance) SetTrace(w io.Writer) {
	i.traceLock.Lock()
	defer i.traceLock.Unlock()
	i.traceOutput = w
}

func (i *Instance) record(ev traceEvent) {
	i.traceLock.Lock()
	defer i.traceLock.Unlock()
	if i.traceOutput == nil {
		return
	}
	buf := new(bytes.Buffer)
	err := json.NewEncoder(buf).Encode(ev)
	if err != nil {
		zap.S().Errorw("runtime: trace: encode", "event", ev, "err", err)
		return
	}
	_, err = io.Copy(i.traceOutput, buf)
	if err != nil {
		zap.S().Errorw("runtime: trace: write", "event", ev, "err", err)
		return
	}
}
