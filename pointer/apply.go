package pointer

// Apply mutates root in place according to change, per spec §4.A. root
// must be the document's top-level mapping (it is always a mapping,
// §3), and change.Target must be non-empty — the root itself can never
// be the mutation target.
//
// Resolution walks every segment but the last to find the parent
// container; the last segment is the mutation key within that parent.
// Deleting an element from a sequence shrinks it, which replaces the
// sequence's own slot in its parent (map entry or outer array element);
// setParent carries that write-back.
func Apply(root map[string]interface{}, change Change) error {
	segments, err := Parse(change.Target)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errPathInvalidf("target %q addresses the document root, which cannot be set or deleted", change.Target)
	}

	parentSegments, lastKey := segments[:len(segments)-1], segments[len(segments)-1]

	parent, setParent, err := resolve(root, parentSegments)
	if err != nil {
		return err
	}

	switch p := parent.(type) {
	case map[string]interface{}:
		return applyToMap(p, lastKey, change)
	case []interface{}:
		return applyToSlice(p, lastKey, change, setParent)
	default:
		return errTypeMismatchf("target %q: parent is a scalar, not a container", change.Target)
	}
}

func applyToMap(parent map[string]interface{}, key string, change Change) error {
	if !change.HasValue() {
		delete(parent, key)
		return nil
	}
	v, err := change.decodedValue()
	if err != nil {
		return err
	}
	parent[key] = v
	return nil
}

func applyToSlice(parent []interface{}, key string, change Change, setParent func(interface{})) error {
	idx, err := parseIndex(key)
	if err != nil {
		return err
	}
	if idx >= len(parent) {
		return errIndexOutOfRangef("index %d out of range for sequence of length %d", idx, len(parent))
	}

	if !change.HasValue() {
		if setParent == nil {
			// Unreachable: the document root is always a mapping (§3),
			// so a sequence parent always has a setter from its own
			// parent container.
			return errTypeMismatchf("cannot delete element of a root-level sequence")
		}
		shrunk := make([]interface{}, 0, len(parent)-1)
		shrunk = append(shrunk, parent[:idx]...)
		shrunk = append(shrunk, parent[idx+1:]...)
		setParent(shrunk)
		return nil
	}

	v, err := change.decodedValue()
	if err != nil {
		return err
	}
	parent[idx] = v
	return nil
}

// resolve walks segs from root and returns the node addressed by the
// full path, along with a setter that overwrites that node's own slot in
// its immediate parent container. The setter is nil when the resolved
// node is the root itself (root can never be overwritten this way).
func resolve(root map[string]interface{}, segs []string) (interface{}, func(interface{}), error) {
	var cur interface{} = root
	var setCur func(interface{})

	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]interface{}:
			child, ok := c[seg]
			if !ok {
				return nil, nil, errPathMissingf("no entry %q in mapping", seg)
			}
			container, key := c, seg
			setCur = func(v interface{}) { container[key] = v }
			cur = child

		case []interface{}:
			idx, err := parseIndex(seg)
			if err != nil {
				return nil, nil, err
			}
			if idx >= len(c) {
				return nil, nil, errIndexOutOfRangef("index %d out of range for sequence of length %d", idx, len(c))
			}
			container, i := c, idx
			setCur = func(v interface{}) { container[i] = v }
			cur = c[idx]

		default:
			return nil, nil, errTypeMismatchf("segment %q: parent is a scalar, not a container", seg)
		}
	}

	return cur, setCur, nil
}
