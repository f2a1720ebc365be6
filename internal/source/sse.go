package source

import (
	"bufio"
	"bytes"
	"io"
)

const maxEventSize = 1 << 20

// event is one dispatched server-sent event.
type event struct {
	name string
	data []byte
}

// readEvents parses a text/event-stream body and calls fn for every
// complete event. Events without an explicit name are named "message".
// It returns nil when r reaches EOF.
func readEvents(r io.Reader, fn func(event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var (
		name    string
		data    bytes.Buffer
		hasData bool
	)

	for scanner.Scan() {
		line := scanner.Bytes()

		if len(line) == 0 {
			if hasData {
				if name == "" {
					name = "message"
				}

				fn(event{name: name, data: bytes.Clone(data.Bytes())})
			}

			name = ""
			data.Reset()
			hasData = false

			continue
		}

		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "event":
			name = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}

			data.Write(value)
			hasData = true
		}
	}

	return scanner.Err()
}
