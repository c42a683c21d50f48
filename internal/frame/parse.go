package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame is a decoded frame as received by a server
type Frame struct {
	Header   map[string]string
	Channels [6][]float64
	Label    string
}

// SeriesLength returns the declared @seriesLength, or -1 when absent
func (f *Frame) SeriesLength() int {
	v, ok := f.Header["seriesLength"]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// Parse decodes a prediction or labelled frame. Header lines are optional;
// the data line is the first non-empty line that does not start with '@'.
func Parse(body string) (*Frame, error) {
	f := &Frame{Header: make(map[string]string)}

	var dataLine string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "@") {
			key, value, _ := strings.Cut(strings.TrimPrefix(line, "@"), " ")
			f.Header[key] = value
			continue
		}
		dataLine = line
		break
	}

	if dataLine == "" {
		return nil, fmt.Errorf("frame has no data line")
	}

	fields := strings.SplitN(dataLine, ":", 7)
	if len(fields) != 7 {
		return nil, fmt.Errorf("data line has %d fields, expected 6 channels and a label", len(fields))
	}

	for i := 0; i < 6; i++ {
		values, err := parseChannel(fields[i])
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		f.Channels[i] = values
	}
	f.Label = fields[6]

	return f, nil
}

func parseChannel(field string) ([]float64, error) {
	if field == "" {
		return nil, nil
	}
	parts := strings.Split(field, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value '%s': %w", p, err)
		}
		values = append(values, v)
	}
	return values, nil
}
