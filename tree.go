package treestore

import (
	"fmt"
	"strings"
)

// A tree node holds either a primitive value or a set of children, never both.
// Each node records the net pending change per child key between flushes,
// and publishes typed events to subscribers attached at its path.

type TreeChangeType string

const (
	TreeChangeTypeAdded   TreeChangeType = "added"
	TreeChangeTypeChanged TreeChangeType = "changed"
	TreeChangeTypeRemoved TreeChangeType = "removed"
)

// net effect of an existing recorded change followed by a new change.
// `keep` is false when the two cancel out (added then removed).
func mergeChangeType(existing TreeChangeType, next TreeChangeType) (merged TreeChangeType, keep bool) {
	switch existing {
	case TreeChangeTypeAdded:
		if next == TreeChangeTypeRemoved {
			return "", false
		}
		return TreeChangeTypeAdded, true
	case TreeChangeTypeChanged:
		if next == TreeChangeTypeRemoved {
			return TreeChangeTypeRemoved, true
		}
		return TreeChangeTypeChanged, true
	case TreeChangeTypeRemoved:
		if next == TreeChangeTypeAdded {
			return TreeChangeTypeChanged, true
		}
		// removed then changed is not reachable under the storage api call
		// order. keep removed.
		return TreeChangeTypeRemoved, true
	default:
		return next, true
	}
}

type treeNode struct {
	key    string
	parent *treeNode

	hasValue bool
	value    any

	// children in insertion order
	childKeys []string
	children  map[string]*treeNode

	// pending child changes in record order
	changeOrder     []string
	recordedChanges map[string]TreeChangeType

	publisher *nodePublisher
}

func newTreeNode(key string, parent *treeNode) *treeNode {
	return &treeNode{
		key:             key,
		parent:          parent,
		children:        map[string]*treeNode{},
		recordedChanges: map[string]TreeChangeType{},
		publisher:       newNodePublisher(),
	}
}

func (self *treeNode) path() string {
	if self.parent == nil {
		return self.key
	}
	parts := []string{}
	for node := self; node != nil && node.key != ""; node = node.parent {
		parts = append(parts, node.key)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// set the primitive value, clearing any children.
// returns false if the value already equals `value` (no change recorded).
func (self *treeNode) setValue(value any) bool {
	value = normalizeValue(value)
	if self.hasValue && valueEqual(self.value, value) {
		return false
	}
	if 0 < len(self.children) {
		self.removeAllChildren()
	}
	self.hasValue = true
	self.value = value
	if self.parent != nil {
		self.parent.recordChildChange(self.key, TreeChangeTypeChanged)
	}
	return true
}

// existing child, or a newly created one.
func (self *treeNode) resolveDirectChild(key string) *treeNode {
	if child, ok := self.children[key]; ok {
		return child
	}
	return self.setDirectChild(key)
}

// walk `path` from this node, creating nodes as needed
func (self *treeNode) resolveChild(path []string) *treeNode {
	node := self
	for _, key := range path {
		node = node.resolveDirectChild(key)
	}
	return node
}

func (self *treeNode) getChild(path []string) *treeNode {
	node := self
	for _, key := range path {
		child, ok := node.children[key]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// creates a fresh child for `key`, disconnecting and replacing any
// existing child. records added when there was no prior child, else changed.
// resolving a child clears any primitive value held by this node.
func (self *treeNode) setDirectChild(key string) *treeNode {
	if self.hasValue {
		self.hasValue = false
		self.value = nil
	}
	prior, hadPrior := self.children[key]
	child := newTreeNode(key, self)
	self.children[key] = child
	if hadPrior {
		prior.disconnect()
		self.recordChildChange(key, TreeChangeTypeChanged)
	} else {
		self.childKeys = append(self.childKeys, key)
		self.recordChildChange(key, TreeChangeTypeAdded)
	}
	return child
}

func (self *treeNode) removeDirectChild(key string) bool {
	child, ok := self.children[key]
	if !ok {
		return false
	}
	delete(self.children, key)
	for i, childKey := range self.childKeys {
		if childKey == key {
			self.childKeys = append(self.childKeys[:i], self.childKeys[i+1:]...)
			break
		}
	}
	self.recordChildChange(key, TreeChangeTypeRemoved)
	child.disconnect()
	return true
}

func (self *treeNode) removeAllChildren() {
	childKeys := self.childKeys
	self.childKeys = nil
	for _, key := range childKeys {
		child := self.children[key]
		delete(self.children, key)
		self.recordChildChange(key, TreeChangeTypeRemoved)
		child.disconnect()
	}
}

// recursively completes the publishers of this subtree. terminal.
// no further events are delivered for a disconnected node, including
// from in-flight ledger flushes.
func (self *treeNode) disconnect() {
	for _, key := range self.childKeys {
		self.children[key].disconnect()
	}
	self.parent = nil
	self.publisher.Complete()
}

func (self *treeNode) recordChildChange(key string, changeType TreeChangeType) {
	wasEmpty := len(self.recordedChanges) == 0
	if existing, ok := self.recordedChanges[key]; ok {
		merged, keep := mergeChangeType(existing, changeType)
		if keep {
			self.recordedChanges[key] = merged
		} else {
			delete(self.recordedChanges, key)
			for i, changeKey := range self.changeOrder {
				if changeKey == key {
					self.changeOrder = append(self.changeOrder[:i], self.changeOrder[i+1:]...)
					break
				}
			}
		}
	} else {
		self.recordedChanges[key] = changeType
		self.changeOrder = append(self.changeOrder, key)
	}
	// the first empty to non-empty transition marks this node changed in the
	// parent ledger. later changes in the same flush window do not re-mark.
	if wasEmpty && 0 < len(self.recordedChanges) && self.parent != nil {
		self.parent.recordChildChange(self.key, TreeChangeTypeChanged)
	}
}

// flush the ledger in record order: removed children emit a child removed
// event carrying a valueless placeholder, live children emit child
// added/changed, then recursively flush and emit their own value changed.
func (self *treeNode) fireChildrenNotifications() {
	if len(self.recordedChanges) == 0 {
		return
	}
	changeOrder := self.changeOrder
	recordedChanges := self.recordedChanges
	self.changeOrder = nil
	self.recordedChanges = map[string]TreeChangeType{}

	for _, key := range changeOrder {
		changeType := recordedChanges[key]
		if changeType == TreeChangeTypeRemoved {
			self.publisher.Publish(&TreeEvent{
				Type: TreeEventTypeChildRemoved,
				node: newTreeNode(key, nil),
			})
			continue
		}
		child, ok := self.children[key]
		if !ok {
			panic(fmt.Sprintf("change ledger references missing child %q under %q", key, self.path()))
		}
		eventType := TreeEventTypeChildChanged
		if changeType == TreeChangeTypeAdded {
			eventType = TreeEventTypeChildAdded
		}
		self.publisher.Publish(&TreeEvent{
			Type: eventType,
			node: child,
		})
		child.fireChildrenNotifications()
		child.publisher.Publish(&TreeEvent{
			Type: TreeEventTypeValueChanged,
			node: child,
		})
	}
}

// recursively discard pending ledgers without firing
func (self *treeNode) resetRecordedChanges() {
	self.changeOrder = nil
	self.recordedChanges = map[string]TreeChangeType{}
	for _, key := range self.childKeys {
		self.children[key].resetRecordedChanges()
	}
}

// deep copy of the subtree with fresh ledgers and publishers.
// the copy is fully decoupled from future mutation of this tree.
func (self *treeNode) clone() *treeNode {
	node := newTreeNode(self.key, nil)
	node.hasValue = self.hasValue
	node.value = self.value
	for _, key := range self.childKeys {
		child := self.children[key].clone()
		child.parent = node
		node.children[key] = child
		node.childKeys = append(node.childKeys, key)
	}
	return node
}

// structural equality: same value, or same child key set with pairwise
// equal children
func (self *treeNode) equals(other *treeNode) bool {
	if other == nil {
		return false
	}
	if self.hasValue != other.hasValue {
		return false
	}
	if self.hasValue {
		return valueEqual(self.value, other.value)
	}
	if len(self.children) != len(other.children) {
		return false
	}
	for key, child := range self.children {
		otherChild, ok := other.children[key]
		if !ok || !child.equals(otherChild) {
			return false
		}
	}
	return true
}

// leaf nodes project to their scalar, internal nodes to an object keyed by
// direct child key
func (self *treeNode) toJson() any {
	if 0 < len(self.children) {
		out := map[string]any{}
		for key, child := range self.children {
			out[key] = child.toJson()
		}
		return out
	}
	if self.hasValue {
		return self.value
	}
	return nil
}

// primitive values are booleans, numbers, and strings. numbers are stored as
// float64 to match the json projection.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

// total over any input: an external log can carry payloads outside the
// primitive model (e.g. a json array leaf), and == on those panics.
// non-primitive values never compare equal, so the reconciliation compare
// fails open and fires.
func valueEqual(a any, b any) bool {
	switch a.(type) {
	case nil, bool, float64, string:
		return a == b
	default:
		return false
	}
}
