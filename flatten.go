package relay

import "time"

// Flattener walks statistics documents and emits one Sample per numeric leaf.
type Flattener struct {
	// Now stamps each sample as its leaf is coerced. Defaults to time.Now.
	Now func() time.Time
}

func NewFlattener() *Flattener {
	return &Flattener{Now: time.Now}
}

// Flatten emits a Sample for every leaf of doc that coerces to a finite number. The path of
// each sample is prefix followed by the sanitized keys leading to the leaf. Leaves that do not
// coerce are skipped.
func (f *Flattener) Flatten(doc Value, prefix string) []Sample {
	var samples []Sample
	f.walk(doc, prefix, &samples)
	return samples
}

func (f *Flattener) walk(v Value, path string, samples *[]Sample) {
	switch node := v.(type) {
	case Object:
		for _, field := range node {
			f.walk(field.Value, path+"."+SanitizeSegment(field.Key), samples)
		}
	default:
		value, ok := Coerce(node)
		if !ok || path == "" {
			return
		}
		*samples = append(*samples, NewSample(path, f.now(), value))
	}
}

// FlattenNodes flattens the "nodes" object of a nodes-stats response. Each node is placed
// under prefix by its "name" field, or by its node id when the name is missing.
func (f *Flattener) FlattenNodes(nodes Value, prefix string) []Sample {
	obj, ok := nodes.(Object)
	if !ok {
		return nil
	}
	var samples []Sample
	for _, node := range obj {
		name := node.Key
		if body, ok := node.Value.(Object); ok {
			if n, ok := body.Get("name"); ok {
				if s, ok := n.(String); ok && s != "" {
					name = string(s)
				}
			}
		}
		f.walk(node.Value, prefix+"."+SanitizeSegment(name), &samples)
	}
	return samples
}

func (f *Flattener) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}
