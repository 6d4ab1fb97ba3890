// Package archive exports event history to Parquet for cold storage, with
// optional upload to S3.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/chronicle/chronicle-go/storage"
)

// Record is the Parquet row shape for one archived event. The payload stays
// as JSON source text so archives survive schema drift between event types.
type Record struct {
	EventType string `parquet:"name=event_type"`
	EventData string `parquet:"name=event_data"`
}

// WriteParquet writes events to w as Parquet rows and reports how many rows
// were written.
func WriteParquet(w io.Writer, events []storage.Event) (int, error) {
	rows := make([]Record, len(events))
	for i, e := range events {
		rows[i] = Record{EventType: e.Type, EventData: string(e.Data)}
	}

	writer := parquet.NewGenericWriter[Record](w)
	n, err := writer.Write(rows)
	if err != nil {
		return n, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("close parquet writer: %w", err)
	}
	return n, nil
}

// ReadParquet decodes an archive produced by WriteParquet.
func ReadParquet(data []byte) ([]storage.Event, error) {
	reader := parquet.NewGenericReader[Record](bytes.NewReader(data))
	defer reader.Close()

	var events []storage.Event
	buf := make([]Record, 64)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			events = append(events, storage.Event{
				Type: row.EventType,
				Data: json.RawMessage(row.EventData),
			})
		}
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
	}
}
