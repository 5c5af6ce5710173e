package treestore

// Typed modifications are the boundary format of the store: locally
// originated writes are published as modifications for relay to a backing
// store, and an external update log injects attributed modifications back
// through `TreeDatabase.ApplyModification`. The json encoding, one object
// per line, is the log format `treectl` speaks.

type TreeModificationKind string

const (
	TreeModificationKindSetValue  TreeModificationKind = "set_value"
	TreeModificationKindSetValues TreeModificationKind = "set_values"
	TreeModificationKindUpdate    TreeModificationKind = "update"
	TreeModificationKindRemove    TreeModificationKind = "remove"
)

type TreeModification struct {
	Kind TreeModificationKind `json:"kind"`
	Path string               `json:"path"`
	// set for kind set_value
	Value any `json:"value,omitempty"`
	// set for kinds set_values and update
	Values map[string]any `json:"values,omitempty"`
}

func NewSetValueModification(path string, value any) *TreeModification {
	return &TreeModification{
		Kind:  TreeModificationKindSetValue,
		Path:  path,
		Value: value,
	}
}

func NewSetValuesModification(path string, values map[string]any) *TreeModification {
	return &TreeModification{
		Kind:   TreeModificationKindSetValues,
		Path:   path,
		Values: values,
	}
}

func NewUpdateModification(path string, values map[string]any) *TreeModification {
	return &TreeModification{
		Kind:   TreeModificationKindUpdate,
		Path:   path,
		Values: values,
	}
}

func NewRemoveModification(path string) *TreeModification {
	return &TreeModification{
		Kind: TreeModificationKindRemove,
		Path: path,
	}
}

type ModificationSource string

const (
	ModificationSourceLocal  ModificationSource = "local"
	ModificationSourceRemote ModificationSource = "remote"
)

// a modification tagged with its origin, to drive echo suppression
type AttributedTreeModification struct {
	TreeModification
	Source ModificationSource `json:"source"`
}

func NewAttributedTreeModification(modification *TreeModification, source ModificationSource) *AttributedTreeModification {
	return &AttributedTreeModification{
		TreeModification: *modification,
		Source:           source,
	}
}

type ModificationFunction = func(modification *TreeModification)
