package relay

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	protocol "github.com/influxdata/line-protocol"
	pickle "github.com/kisielk/og-rek"
)

// Protocol selects the wire encoding used towards the collector.
type Protocol string

const (
	// Pickle is carbon's pickle receiver format: a length-prefixed pickled list of
	// (path, (timestamp, value)) tuples.
	Pickle Protocol = "pickle"
	// Plaintext is carbon's line receiver format: "<path> <value> <timestamp>\n".
	Plaintext Protocol = "plaintext"
	// Line is the Influx line protocol with the path as measurement.
	Line Protocol = "line"
)

// carbon decodes protocol 2 under both python 2 and 3.
const pickleProtocol = 2

var ErrUnknownProtocol = errors.New("unknown protocol")

// ParseProtocol accepts the configured protocol name, case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case Pickle, Plaintext, Line:
		return p, nil
	}
	return "", errors.Wrapf(ErrUnknownProtocol, "%q (expected pickle, plaintext or line)", s)
}

// DefaultPort returns the collector port conventionally used for the protocol.
func (p Protocol) DefaultPort() int {
	switch p {
	case Plaintext:
		return 2003
	case Line:
		return 8094
	default:
		return 2004
	}
}

// Encode serializes a batch into a single payload.
func Encode(batch []Sample, p Protocol) ([]byte, error) {
	switch p {
	case Pickle:
		return encodePickle(batch)
	case Plaintext:
		return encodePlaintext(batch), nil
	case Line:
		return encodeLine(batch)
	}
	return nil, errors.Wrapf(ErrUnknownProtocol, "%q", string(p))
}

// encodePickle writes paths as protocol 2 byte strings. A python 3 carbon decodes those as
// ASCII, so paths with non-ASCII characters only reach a python 2 carbon intact.
func encodePickle(batch []Sample) ([]byte, error) {
	list := make([]interface{}, 0, len(batch))
	for _, s := range batch {
		list = append(list, pickle.Tuple{s.Path, pickle.Tuple{s.Timestamp, s.Value}})
	}

	var body bytes.Buffer
	encoder := pickle.NewEncoderWithConfig(&body, &pickle.EncoderConfig{Protocol: pickleProtocol})
	if err := encoder.Encode(list); err != nil {
		return nil, errors.Wrap(err, "failed to pickle batch")
	}

	payload := make([]byte, 4, 4+body.Len())
	binary.BigEndian.PutUint32(payload, uint32(body.Len()))
	return append(payload, body.Bytes()...), nil
}

func encodePlaintext(batch []Sample) []byte {
	var buf bytes.Buffer
	for _, s := range batch {
		buf.WriteString(s.Path)
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatFloat(s.Value, 'f', -1, 64))
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(s.Timestamp, 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func encodeLine(batch []Sample) ([]byte, error) {
	var buf bytes.Buffer
	encoder := protocol.NewEncoder(&buf)
	for _, s := range batch {
		if _, err := encoder.Encode(newLineMetric(s)); err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s", s.Path)
		}
	}
	return buf.Bytes(), nil
}
