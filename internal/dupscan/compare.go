package dupscan

import (
	"path/filepath"
	"slices"
)

// Comparison lists how two trees differ. Paths are relative to each tree's root.
type Comparison struct {
	OnlyInA []string
	OnlyInB []string
	// Changed holds paths present in both trees whose content differs. Content
	// is compared by digest when both sides have one, otherwise by known size.
	Changed []string
}

// Equal reports whether no difference was found.
func (c *Comparison) Equal() bool {
	return len(c.OnlyInA) == 0 && len(c.OnlyInB) == 0 && len(c.Changed) == 0
}

// CompareTrees matches the records of a and b by root-relative path.
// Neither tree is hashed or modified.
func CompareTrees(a, b *TreeNode) *Comparison {
	left := relativeRecords(a)
	right := relativeRecords(b)

	c := &Comparison{}
	for rel, ra := range left {
		rb, ok := right[rel]
		if !ok {
			c.OnlyInA = append(c.OnlyInA, rel)
			continue
		}
		if contentDiffers(ra, rb) {
			c.Changed = append(c.Changed, rel)
		}
	}
	for rel := range right {
		if _, ok := left[rel]; !ok {
			c.OnlyInB = append(c.OnlyInB, rel)
		}
	}

	slices.Sort(c.OnlyInA)
	slices.Sort(c.OnlyInB)
	slices.Sort(c.Changed)
	return c
}

func relativeRecords(t *TreeNode) map[string]*FileRecord {
	out := make(map[string]*FileRecord)
	for _, r := range t.Records() {
		rel, err := filepath.Rel(t.RootPath(), r.Path())
		if err != nil {
			rel = r.Path()
		}
		out[rel] = r
	}
	return out
}

func contentDiffers(a, b *FileRecord) bool {
	da, okA := a.Digest()
	db, okB := b.Digest()
	if okA && okB {
		return da != db
	}
	sa, okA := a.Size()
	sb, okB := b.Size()
	if okA && okB {
		return sa != sb
	}
	return okA != okB
}
