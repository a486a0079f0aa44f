package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeSSE writes one event in server-sent-events framing.
func EncodeSSE(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Kind, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
