package blackbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxLine bounds one record; the boot log's fields make those the longest.
const maxLine = 1 << 20

// ReadLog parses a flight log.
func ReadLog(r io.Reader) ([]Record, error) {
	var recs []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		err := json.Unmarshal(sc.Bytes(), &rec)
		if err != nil {
			return recs, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return recs, fmt.Errorf("line %d: %w", line+1, err)
	}
	return recs, nil
}

func ReadLogFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLog(f)
}

// Decode unmarshals the value of rec.
func Decode[T any](rec Record) (T, error) {
	var v T
	err := json.Unmarshal(rec.Value, &v)
	if err != nil {
		return v, fmt.Errorf("%s #%d: %w", rec.Topic, rec.Seq, err)
	}
	return v, nil
}

// Filter returns the records of one topic, in log order.
func Filter(recs []Record, topic string) []Record {
	var out []Record
	for _, rec := range recs {
		if rec.Topic == topic {
			out = append(out, rec)
		}
	}
	return out
}
