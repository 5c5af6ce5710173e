package treestore

// TreeDataSnapshot is an immutable, deep-cloned view of a node subtree at a
// point in time. Later mutation of the live tree never affects a previously
// taken snapshot. The database back-reference is used only to mint refs.
type TreeDataSnapshot struct {
	database *TreeDatabase
	path     string
	key      string

	hasValue bool
	value    any

	childKeys []string
	children  map[string]*TreeDataSnapshot
}

func newTreeDataSnapshot(database *TreeDatabase, path string, node *treeNode) *TreeDataSnapshot {
	snapshot := &TreeDataSnapshot{
		database: database,
		path:     path,
		key:      node.key,
		hasValue: node.hasValue,
		value:    node.value,
		children: map[string]*TreeDataSnapshot{},
	}
	for _, key := range node.childKeys {
		childPath := key
		if path != "" {
			childPath = path + "/" + key
		}
		snapshot.childKeys = append(snapshot.childKeys, key)
		snapshot.children[key] = newTreeDataSnapshot(database, childPath, node.children[key])
	}
	return snapshot
}

func (self *TreeDataSnapshot) Key() string {
	return self.key
}

func (self *TreeDataSnapshot) Path() string {
	return self.path
}

// the primitive value, or nil if the snapshot has children or no value
func (self *TreeDataSnapshot) Value() any {
	if 0 < len(self.children) {
		return nil
	}
	if !self.hasValue {
		return nil
	}
	return self.value
}

func (self *TreeDataSnapshot) NumChildren() int {
	return len(self.childKeys)
}

// immediate child snapshots in order
func (self *TreeDataSnapshot) Children() []*TreeDataSnapshot {
	out := make([]*TreeDataSnapshot, 0, len(self.childKeys))
	for _, key := range self.childKeys {
		out = append(out, self.children[key])
	}
	return out
}

func (self *TreeDataSnapshot) ForEachChild(callback func(child *TreeDataSnapshot)) {
	for _, key := range self.childKeys {
		callback(self.children[key])
	}
}

// sub-snapshot at a relative '/'-separated path, or nil if absent
func (self *TreeDataSnapshot) Child(path string) *TreeDataSnapshot {
	snapshot := self
	for _, key := range splitTreePath(path) {
		child, ok := snapshot.children[key]
		if !ok {
			return nil
		}
		snapshot = child
	}
	return snapshot
}

func (self *TreeDataSnapshot) HasChild(path string) bool {
	return self.Child(path) != nil
}

// a ref addressing the snapshot's path in the owning database
func (self *TreeDataSnapshot) Ref() *TreeDatabaseRef {
	return self.database.Reference(self.path)
}

// structural equality: same value, or same child key set with pairwise
// equal children. path and key tags are not compared.
func (self *TreeDataSnapshot) IsEqual(other *TreeDataSnapshot) bool {
	if other == nil {
		return false
	}
	if self.hasValue != other.hasValue {
		return false
	}
	if self.hasValue && !valueEqual(self.value, other.value) {
		return false
	}
	if len(self.children) != len(other.children) {
		return false
	}
	for key, child := range self.children {
		otherChild, ok := other.children[key]
		if !ok || !child.IsEqual(otherChild) {
			return false
		}
	}
	return true
}

// leaf -> scalar, internal node -> object keyed by direct child key
func (self *TreeDataSnapshot) ToJson() any {
	if 0 < len(self.children) {
		out := map[string]any{}
		for key, child := range self.children {
			out[key] = child.ToJson()
		}
		return out
	}
	if self.hasValue {
		return self.value
	}
	return nil
}
