package treestore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/golang/glog"
)

var ErrReadonlyDatabase = errors.New("database is readonly")

// the observed path completed (node removed) before a value arrived
var ErrWatchCompleted = errors.New("watch completed before a value was observed")

func DefaultTreeDatabaseSettings() *TreeDatabaseSettings {
	return &TreeDatabaseSettings{
		GenerateChildId: NewChildId,
	}
}

type TreeDatabaseSettings struct {
	// refuse local writes
	Readonly bool
	// redirect notification delivery to a later turn.
	// nil delivers synchronously, in line with the triggering write.
	NotificationScheduler ScheduleFunction
	// child key factory for `ChildWithAutoId`. keys must be unique and
	// chronologically sortable.
	GenerateChildId func() string
}

// TreeDatabase owns a TreeStorage, publishes locally originated
// modifications, and reconciles attributed modifications applied from an
// external update source. All storage access serializes through the state
// lock, so a mutation and its notification flush are atomic with respect
// to observers.
type TreeDatabase struct {
	settings *TreeDatabaseSettings

	stateLock sync.Mutex

	storage *TreeStorage

	modificationCallbacks *CallbackList[ModificationFunction]
}

func NewTreeDatabaseWithDefaults() *TreeDatabase {
	return NewTreeDatabase(DefaultTreeDatabaseSettings())
}

func NewTreeDatabase(settings *TreeDatabaseSettings) *TreeDatabase {
	if settings.GenerateChildId == nil {
		settings.GenerateChildId = NewChildId
	}
	return &TreeDatabase{
		settings:              settings,
		storage:               NewTreeStorage(),
		modificationCallbacks: NewCallbackList[ModificationFunction](),
	}
}

func (self *TreeDatabase) IsReadonly() bool {
	return self.settings.Readonly
}

// a ref at an absolute path
func (self *TreeDatabase) Reference(path string) *TreeDatabaseRef {
	return &TreeDatabaseRef{
		database: self,
		path:     joinTreePath(splitTreePath(path)),
	}
}

// callbacks receive every locally originated modification, for relay to a
// backing store. returns an unsubscribe function.
func (self *TreeDatabase) AddModificationCallback(modificationCallback ModificationFunction) func() {
	callbackId := self.modificationCallbacks.Add(modificationCallback)
	return func() {
		self.modificationCallbacks.Remove(callbackId)
	}
}

// a locally originated write: mutate storage, publish the modification,
// then flush. modification callbacks run with the state lock held and must
// not call back into the database.
func (self *TreeDatabase) write(modification *TreeModification) error {
	if self.settings.Readonly {
		return ErrReadonlyDatabase
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.applyToStorage(modification)
	for _, modificationCallback := range self.modificationCallbacks.Get() {
		modificationCallback(modification)
	}
	self.storage.TriggerRecordChangeNotifications()
	return nil
}

// ApplyModification applies an attributed modification from the inbound
// update stream. Every kind applies identically regardless of source, with
// one exception: a set_values tagged local is checked against the state
// before the write, and when the result is structurally unchanged the
// write is a confirmed echo of an already-applied optimistic local write.
// The accumulated ledger is then discarded instead of fired, so the same
// logical change is not notified twice. All other kinds always fire, even
// when they happen to be no-ops. A failure to establish confident equality
// fails open and fires.
func (self *TreeDatabase) ApplyModification(attributed *AttributedTreeModification) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	modification := &attributed.TreeModification

	if modification.Kind == TreeModificationKindSetValues && attributed.Source == ModificationSourceLocal {
		parts := splitTreePath(modification.Path)
		var before *treeNode
		if node := self.storage.getNode(parts); node != nil {
			before = node.clone()
		}
		self.applyToStorage(modification)
		after := self.storage.getNode(parts)
		if before != nil && after != nil && before.equals(after) {
			glog.V(1).Infof("[db]suppress echo at %q\n", modification.Path)
			self.storage.ResetRecordedChanges()
			return
		}
		if before != nil && after == nil {
			glog.Warningf("[db]echo check lost node at %q, firing\n", modification.Path)
		}
	} else {
		self.applyToStorage(modification)
	}

	self.storage.TriggerRecordChangeNotifications()
}

func (self *TreeDatabase) applyToStorage(modification *TreeModification) {
	switch modification.Kind {
	case TreeModificationKindSetValue:
		self.storage.SetValue(modification.Path, modification.Value)
	case TreeModificationKindSetValues:
		self.storage.SetValues(modification.Path, modification.Values)
	case TreeModificationKindUpdate:
		self.storage.UpdateValues(modification.Path, modification.Values)
	case TreeModificationKindRemove:
		self.storage.RemoveValue(modification.Path)
	default:
		glog.Warningf("[db]ignore unknown modification kind %q\n", modification.Kind)
	}
}

// ApplyModificationLog reads attributed modifications from `reader`, one
// json object per line or stream-concatenated, and applies each in order.
// Returns the number applied.
func (self *TreeDatabase) ApplyModificationLog(reader io.Reader) (int, error) {
	decoder := json.NewDecoder(reader)
	count := 0
	for {
		var attributed AttributedTreeModification
		if err := decoder.Decode(&attributed); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		self.ApplyModification(&attributed)
		count += 1
	}
}

// a change delivered to a `Changes` subscription
type TreeChange struct {
	Type     TreeEventType
	Snapshot *TreeDataSnapshot
}

type ChangeSubscription struct {
	queue       *notifyQueue[*TreeChange]
	unsubscribe func()
	cancelOnce  sync.Once
}

// ordered, unbounded. closes when the observed node is removed or the
// subscription is canceled.
func (self *ChangeSubscription) Changes() <-chan *TreeChange {
	return self.queue.Out()
}

// Cancel stops the subscription and drops undelivered changes
func (self *ChangeSubscription) Cancel() {
	self.cancelOnce.Do(func() {
		self.unsubscribe()
		self.queue.Cancel()
	})
}

// Drain stops the subscription and closes the changes channel after every
// already-queued change delivers
func (self *ChangeSubscription) Drain() {
	self.cancelOnce.Do(func() {
		self.unsubscribe()
		self.queue.Close()
	})
}

// TreeDatabaseRef is a value-type handle on (database, path). It carries no
// mutable state of its own.
type TreeDatabaseRef struct {
	database *TreeDatabase
	path     string
}

func (self *TreeDatabaseRef) Path() string {
	return self.path
}

func (self *TreeDatabaseRef) Key() string {
	parts := splitTreePath(self.path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func (self *TreeDatabaseRef) Database() *TreeDatabase {
	return self.database
}

// a ref at an extended path
func (self *TreeDatabaseRef) Child(relativePath string) *TreeDatabaseRef {
	parts := append(splitTreePath(self.path), splitTreePath(relativePath)...)
	return &TreeDatabaseRef{
		database: self.database,
		path:     joinTreePath(parts),
	}
}

// a ref at an extended path with a generated, chronologically sortable key
func (self *TreeDatabaseRef) ChildWithAutoId() *TreeDatabaseRef {
	return self.Child(self.database.settings.GenerateChildId())
}

func (self *TreeDatabaseRef) SetValue(value any) error {
	return self.database.write(NewSetValueModification(self.path, value))
}

func (self *TreeDatabaseRef) SetValues(values map[string]any) error {
	return self.database.write(NewSetValuesModification(self.path, values))
}

func (self *TreeDatabaseRef) Update(values map[string]any) error {
	return self.database.write(NewUpdateModification(self.path, values))
}

func (self *TreeDatabaseRef) Remove() error {
	return self.database.write(NewRemoveModification(self.path))
}

// Changes subscribes to change events at this ref's path, filtered to
// `eventTypes` (all types when empty). An existing node replays its current
// state first as a synthetic burst of added events. Snapshots for child
// removed events come from the removed-node placeholder and carry only the
// key. Delivery goes through the database's notification scheduler when one
// is configured.
func (self *TreeDatabaseRef) Changes(eventTypes ...TreeEventType) *ChangeSubscription {
	filter := map[TreeEventType]bool{}
	for _, eventType := range eventTypes {
		filter[eventType] = true
	}

	queue := newNotifyQueue[*TreeChange]()
	scheduler := self.database.settings.NotificationScheduler

	deliver := func(do func()) {
		if scheduler != nil {
			scheduler(do)
		} else {
			do()
		}
	}

	eventCallback := func(event *TreeEvent) {
		if 0 < len(filter) && !filter[event.Type] {
			return
		}
		snapshotPath := self.path
		if event.Type != TreeEventTypeValueChanged {
			snapshotPath = joinTreePath(append(splitTreePath(self.path), event.node.key))
		}
		snapshot := newTreeDataSnapshot(self.database, snapshotPath, event.node)
		deliver(func() {
			queue.Add(&TreeChange{
				Type:     event.Type,
				Snapshot: snapshot,
			})
		})
	}
	completeCallback := func() {
		deliver(func() {
			queue.Close()
		})
	}

	self.database.stateLock.Lock()
	unsubscribe := self.database.storage.Observe(self.path, eventCallback, completeCallback)
	self.database.stateLock.Unlock()

	return &ChangeSubscription{
		queue: queue,
		unsubscribe: func() {
			self.database.stateLock.Lock()
			defer self.database.stateLock.Unlock()
			unsubscribe()
		},
	}
}

// a point-in-time snapshot of the node at this ref's path, or nil when the
// path does not exist
func (self *TreeDatabaseRef) Snapshot() *TreeDataSnapshot {
	self.database.stateLock.Lock()
	defer self.database.stateLock.Unlock()

	node := self.database.storage.getNode(splitTreePath(self.path))
	if node == nil {
		return nil
	}
	return newTreeDataSnapshot(self.database, self.path, node)
}

// GetValue resolves with the json projection of the first value changed
// event observed at this ref's path, waiting for the value to exist if it
// does not yet. Context cancellation and completion of the underlying
// observation reject with an error.
func (self *TreeDatabaseRef) GetValue(ctx context.Context) (any, error) {
	subscription := self.Changes(TreeEventTypeValueChanged)
	defer subscription.Cancel()

	select {
	case change, ok := <-subscription.Changes():
		if !ok {
			return nil, ErrWatchCompleted
		}
		return change.Snapshot.ToJson(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
