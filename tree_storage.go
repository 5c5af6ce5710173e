package treestore

import (
	"sort"
	"strings"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// TreeStorage owns the root node and resolves nodes along '/'-separated
// paths. Subscriptions to paths that do not exist yet are parked in a
// pending registry and attached when the path is created.
//
// Storage is not synchronized. Callers serialize access; `TreeDatabase`
// does this with its state lock.

func splitTreePath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func joinTreePath(parts []string) string {
	return strings.Join(parts, "/")
}

type pendingObservation struct {
	observeId int
	resolve   func(node *treeNode)
}

type TreeStorage struct {
	root *treeNode

	nextObserveId int
	// path -> observations waiting for the path to exist
	pendingObservations map[string][]*pendingObservation
	// matured observations, attached only at trigger/reset time so that a
	// subscriber to a just-created path never sees the creating flush
	resolvedObservations []func()
}

func NewTreeStorage() *TreeStorage {
	return &TreeStorage{
		root:                newTreeNode("", nil),
		pendingObservations: map[string][]*pendingObservation{},
	}
}

func (self *TreeStorage) getNode(parts []string) *treeNode {
	return self.root.getChild(parts)
}

func (self *TreeStorage) resolveNode(parts []string) *treeNode {
	return self.root.resolveChild(parts)
}

func (self *TreeStorage) HasNode(path string) bool {
	return self.getNode(splitTreePath(path)) != nil
}

func (self *TreeStorage) SetValue(path string, value any) {
	parts := splitTreePath(path)
	if values, ok := value.(map[string]any); ok {
		// an object payload replaces the subtree
		self.SetValues(path, values)
		return
	}
	node := self.resolveNode(parts)
	node.setValue(value)
	self.onNodeModified(parts)
}

// full replace: all existing children are cleared before the new set is
// written
func (self *TreeStorage) SetValues(path string, values map[string]any) {
	parts := splitTreePath(path)
	node := self.resolveNode(parts)
	node.removeAllChildren()
	self.writeValues(node, parts, values)
	self.onNodeModified(parts)
}

// merge: children not named in `values` are left alone
func (self *TreeStorage) UpdateValues(path string, values map[string]any) {
	parts := splitTreePath(path)
	node := self.resolveNode(parts)
	self.writeValues(node, parts, values)
	self.onNodeModified(parts)
}

// map keys are written in sorted order for deterministic notification order
func (self *TreeStorage) writeValues(node *treeNode, parts []string, values map[string]any) {
	keys := maps.Keys(values)
	sort.Strings(keys)
	for _, key := range keys {
		self.writeChildValue(node, parts, key, values[key])
	}
}

func (self *TreeStorage) writeChildValue(node *treeNode, parts []string, key string, value any) {
	childParts := append(append([]string{}, parts...), key)
	child := node.resolveDirectChild(key)
	if values, ok := value.(map[string]any); ok {
		child.removeAllChildren()
		self.writeValues(child, childParts, values)
	} else {
		child.setValue(value)
	}
	self.onNodeModified(childParts)
}

func (self *TreeStorage) RemoveValue(path string) {
	parts := splitTreePath(path)
	if len(parts) == 0 {
		// the root cannot be removed from a parent
		glog.V(1).Infof("[store]remove ignored for root\n")
		return
	}
	parent := self.getNode(parts[:len(parts)-1])
	if parent == nil {
		return
	}
	if parent.removeDirectChild(parts[len(parts)-1]) {
		self.onNodeModified(parts[:len(parts)-1])
	}
}

// Observe delivers a one-time state burst for an existing node (one child
// added per existing child in order, then one value changed for the node
// itself) followed by live change events. For a missing node the
// observation is parked, without timeout, until the node is created.
// Removal of the node completes the observation via `completeCallback`.
// The returned function cancels the observation; canceling a parked
// observation is pure registry cleanup.
func (self *TreeStorage) Observe(path string, eventCallback TreeEventFunction, completeCallback func()) func() {
	parts := splitTreePath(path)

	canceled := false
	var unsubscribe func()

	attach := func(node *treeNode) {
		for _, key := range node.childKeys {
			eventCallback(&TreeEvent{
				Type: TreeEventTypeChildAdded,
				node: node.children[key],
			})
		}
		eventCallback(&TreeEvent{
			Type: TreeEventTypeValueChanged,
			node: node,
		})
		unsubscribe = node.publisher.Subscribe(eventCallback, completeCallback)
	}

	if node := self.getNode(parts); node != nil {
		attach(node)
		return func() {
			canceled = true
			if unsubscribe != nil {
				unsubscribe()
			}
		}
	}

	pathKey := joinTreePath(parts)
	observeId := self.nextObserveId
	self.nextObserveId += 1

	pending := &pendingObservation{
		observeId: observeId,
		resolve: func(node *treeNode) {
			if canceled {
				return
			}
			attach(node)
		},
	}
	self.pendingObservations[pathKey] = append(self.pendingObservations[pathKey], pending)

	return func() {
		canceled = true
		if unsubscribe != nil {
			unsubscribe()
			return
		}
		pendings := self.pendingObservations[pathKey]
		for i, p := range pendings {
			if p.observeId == observeId {
				pendings = append(pendings[:i], pendings[i+1:]...)
				break
			}
		}
		if len(pendings) == 0 {
			delete(self.pendingObservations, pathKey)
		} else {
			self.pendingObservations[pathKey] = pendings
		}
	}
}

// after a mutation touching `parts`, every prefix of the path now exists.
// matured pending observations move to the resolved queue, to attach at the
// next trigger or reset.
func (self *TreeStorage) onNodeModified(parts []string) {
	for i := 0; i <= len(parts); i += 1 {
		prefix := parts[:i]
		pathKey := joinTreePath(prefix)
		pendings, ok := self.pendingObservations[pathKey]
		if !ok {
			continue
		}
		delete(self.pendingObservations, pathKey)
		glog.V(2).Infof("[store]resolve %d pending observation(s) at %q\n", len(pendings), pathKey)
		prefixParts := append([]string{}, prefix...)
		for _, pending := range pendings {
			pending := pending
			self.resolvedObservations = append(self.resolvedObservations, func() {
				if node := self.getNode(prefixParts); node != nil {
					pending.resolve(node)
				} else {
					// removed again before the attach ran. park again.
					self.pendingObservations[pathKey] = append(self.pendingObservations[pathKey], pending)
				}
			})
		}
	}
}

// flush all pending ledgers into events. the root emits its own value
// changed event when its ledger was non-empty, since no parent exists to
// have marked it changed.
func (self *TreeStorage) TriggerRecordChangeNotifications() {
	rootChanged := 0 < len(self.root.recordedChanges)
	self.root.fireChildrenNotifications()
	if rootChanged {
		self.root.publisher.Publish(&TreeEvent{
			Type: TreeEventTypeValueChanged,
			node: self.root,
		})
	}
	self.attachResolvedObservations()
}

// discard all pending ledgers without firing
func (self *TreeStorage) ResetRecordedChanges() {
	self.root.resetRecordedChanges()
	self.attachResolvedObservations()
}

func (self *TreeStorage) attachResolvedObservations() {
	for 0 < len(self.resolvedObservations) {
		resolved := self.resolvedObservations
		self.resolvedObservations = nil
		for _, attach := range resolved {
			attach()
		}
	}
}
