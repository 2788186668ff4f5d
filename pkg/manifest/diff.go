package manifest

import "sort"

// Changes is the result of comparing the manifest with a fresh scan.
type Changes struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Empty reports whether there is nothing to reconcile.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Total returns the number of paths touched by the changes.
func (c Changes) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Detect diffs the stored fingerprints against the current scan. It has no
// side effects. Each list is sorted so the output is stable for a given input.
func Detect(stored, current map[string]string) Changes {
	changes := Changes{
		Added:    []string{},
		Modified: []string{},
		Deleted:  []string{},
	}

	for path, fp := range current {
		old, ok := stored[path]
		switch {
		case !ok:
			changes.Added = append(changes.Added, path)
		case old != fp:
			changes.Modified = append(changes.Modified, path)
		}
	}

	for path := range stored {
		if _, ok := current[path]; !ok {
			changes.Deleted = append(changes.Deleted, path)
		}
	}

	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)

	return changes
}
