package templates

// Change records a leaf whose value differs between two records.
type Change struct {
	From Value `json:"from"`
	To   Value `json:"to"`
}

// DiffResult groups changed leaves by dotted path.
type DiffResult struct {
	Added      map[string]Value  `json:"added"`
	Modified   map[string]Change `json:"modified"`
	Removed    map[string]Value  `json:"removed"`
	HasChanges bool              `json:"has_changes"`
}

// Paths returns every changed path in sorted order.
func (d DiffResult) Paths() []string {
	all := make(map[string]struct{}, len(d.Added)+len(d.Modified)+len(d.Removed))
	for k := range d.Added {
		all[k] = struct{}{}
	}
	for k := range d.Modified {
		all[k] = struct{}{}
	}
	for k := range d.Removed {
		all[k] = struct{}{}
	}
	return sortedKeys(all)
}

// Diff compares the leaves of two records.
func Diff(before, after Record) DiffResult {
	b, a := Flatten(before), Flatten(after)
	d := DiffResult{
		Added:    make(map[string]Value),
		Modified: make(map[string]Change),
		Removed:  make(map[string]Value),
	}
	for path, av := range a {
		bv, ok := b[path]
		switch {
		case !ok:
			d.Added[path] = av
		case !bv.Equal(av):
			d.Modified[path] = Change{From: bv, To: av}
		}
	}
	for path, bv := range b {
		if _, ok := a[path]; !ok {
			d.Removed[path] = bv
		}
	}
	d.HasChanges = len(d.Added)+len(d.Modified)+len(d.Removed) > 0
	return d
}

// ApplyExtract overlays every leaf of extracted onto a copy of original.
// Leaves only present in original are kept.
func ApplyExtract(original, extracted Record) Record {
	out := original.Clone()
	for path, v := range Flatten(extracted) {
		out.Set(path, v)
	}
	return out
}
