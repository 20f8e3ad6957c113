package relay

import (
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// Sample is one flattened metric ready to be sent to the collector.
type Sample struct {
	Path      string
	Timestamp int64
	Value     float64
}

func NewSample(path string, timestamp time.Time, value float64) Sample {
	return Sample{Path: path, Timestamp: timestamp.Unix(), Value: value}
}

// lineMetric adapts a Sample to protocol.Metric with the path as measurement and a single
// "value" field.
type lineMetric struct {
	sample Sample
	fields []*protocol.Field
}

func newLineMetric(s Sample) *lineMetric {
	return &lineMetric{
		sample: s,
		fields: []*protocol.Field{{Key: "value", Value: s.Value}},
	}
}

func (m *lineMetric) Time() time.Time {
	return time.Unix(m.sample.Timestamp, 0)
}

func (m *lineMetric) Name() string {
	return m.sample.Path
}

func (m *lineMetric) TagList() []*protocol.Tag {
	return nil
}

func (m *lineMetric) FieldList() []*protocol.Field {
	return m.fields
}
