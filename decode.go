package mpdmux

// Attrs holds the key/value payload of one reply, last value winning per key.
// Keys are normalized: hyphens become underscores.
type Attrs map[string]string

// KeyValue is one raw payload line of a reply, in wire order.
type KeyValue struct {
	Key   string
	Value string
}

// decodeFunc folds the accumulated payload lines of one reply into the typed
// result the caller receives.
type decodeFunc func(fields []KeyValue) (any, error)

// groupMarkers are the keys that open a new entry in a marker-partitioned
// reply, such as lsinfo or listallinfo.
var groupMarkers = map[string]bool{
	"file":      true,
	"directory": true,
	"playlist":  true,
}

// decodeEmpty expects a reply with no payload lines and yields true.
func decodeEmpty(fields []KeyValue) (any, error) {
	if len(fields) != 0 {
		return nil, &ProtocolError{Line: fields[0].Key + FieldSeparator + fields[0].Value, Reason: "unexpected payload in empty reply"}
	}
	return true, nil
}

// decodeValue expects exactly one payload line and yields its value.
func decodeValue(fields []KeyValue) (any, error) {
	if len(fields) != 1 {
		return nil, &ProtocolError{Reason: "expected a single-value reply"}
	}
	return fields[0].Value, nil
}

// decodeList yields the values in wire order, ignoring keys.
func decodeList(fields []KeyValue) (any, error) {
	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = f.Value
	}
	return values, nil
}

// decodeAttrs yields a key/value mapping, last value winning per key.
func decodeAttrs(fields []KeyValue) (any, error) {
	attrs := make(Attrs, len(fields))
	for _, f := range fields {
		attrs[f.Key] = f.Value
	}
	return attrs, nil
}

// decodeLists yields every value seen per key, in wire order.
func decodeLists(fields []KeyValue) (any, error) {
	lists := make(map[string][]string)
	for _, f := range fields {
		lists[f.Key] = append(lists[f.Key], f.Value)
	}
	return lists, nil
}

// decodePairs yields the raw payload lines in wire order, for commands whose
// reply shape varies with their arguments (sticker, mount and friends).
func decodePairs(fields []KeyValue) (any, error) {
	return append([]KeyValue(nil), fields...), nil
}

// decodeGroups partitions the payload into entries, each opened by one of the
// given marker keys and folded into an Attrs, collected per marker kind.
func decodeGroups(fields []KeyValue, markers map[string]bool) (map[string][]Attrs, error) {
	groups := make(map[string][]Attrs)
	var current Attrs
	for _, f := range fields {
		if markers[f.Key] {
			current = Attrs{}
			groups[f.Key] = append(groups[f.Key], current)
		} else if current == nil {
			return nil, &ProtocolError{Line: f.Key + FieldSeparator + f.Value, Reason: "payload line before first group marker"}
		}
		current[f.Key] = f.Value
	}
	return groups, nil
}

// decodeMarkedGroups is decodeGroups over the standard file/directory/playlist
// markers.
func decodeMarkedGroups(fields []KeyValue) (any, error) {
	groups, err := decodeGroups(fields, groupMarkers)
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// decodeGroup treats the first payload key as the sole group marker and
// yields the entries ungrouped. An empty reply yields an empty slice.
func decodeGroup(fields []KeyValue) (any, error) {
	if len(fields) == 0 {
		return []Attrs{}, nil
	}
	marker := fields[0].Key
	groups, err := decodeGroups(fields, map[string]bool{marker: true})
	if err != nil {
		return nil, err
	}
	return groups[marker], nil
}
