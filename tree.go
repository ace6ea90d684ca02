package main

import (
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// arch => package name
type ArchMap = orderedmap.OrderedMap[string, string]

// toolchain version => arch => package name
type ToolchainVersionMap = orderedmap.OrderedMap[string, *ArchMap]

// toolchain => toolchain version => arch => package name
type ToolchainMap = orderedmap.OrderedMap[string, *ToolchainVersionMap]

// the full key of a leaf in an `AggregationTree`, outermost first.
type TreePath struct {
	Version          string // "5.12.10"
	Toolchain        string // "msvc"
	ToolchainVersion string // "2019"
	Arch             string // "64"
}

// a package name and where it lives in the tree
type Leaf struct {
	TreePath
	PackageName string
}

// semantic version => toolchain => toolchain version => arch => package name
//
// each level preserves insertion order when serialised.
type AggregationTree struct {
	versions *orderedmap.OrderedMap[string, *ToolchainMap]
}

func NewAggregationTree() *AggregationTree {
	return &AggregationTree{
		versions: orderedmap.New[string, *ToolchainMap](),
	}
}

// returns the map at `key` in `m`, creating and inserting an empty one if missing.
func child[V any](m *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, V]], key string) *orderedmap.OrderedMap[string, V] {
	c, present := m.Get(key)
	if !present {
		c = orderedmap.New[string, V]()
		m.Set(key, c)
	}
	return c
}

// sets `package_name` at `path`, creating intermediate levels as needed.
// an existing leaf is overwritten, its previous value returned with `true`.
func (t *AggregationTree) Insert(path TreePath, package_name string) (string, bool) {
	toolchain_map := child(t.versions, path.Version)
	toolchain_version_map := child(toolchain_map, path.Toolchain)
	arch_map := child(toolchain_version_map, path.ToolchainVersion)
	return arch_map.Set(path.Arch, package_name)
}

func (t *AggregationTree) Get(path TreePath) (string, bool) {
	toolchain_map, present := t.versions.Get(path.Version)
	if !present {
		return "", false
	}
	toolchain_version_map, present := toolchain_map.Get(path.Toolchain)
	if !present {
		return "", false
	}
	arch_map, present := toolchain_version_map.Get(path.ToolchainVersion)
	if !present {
		return "", false
	}
	return arch_map.Get(path.Arch)
}

// top-level keys in their current order.
func (t *AggregationTree) Versions() []string {
	version_list := make([]string, 0, t.versions.Len())
	for pair := t.versions.Oldest(); pair != nil; pair = pair.Next() {
		version_list = append(version_list, pair.Key)
	}
	return version_list
}

// every leaf beneath `version` in traversal order: toolchain, then toolchain version, then arch.
func (t *AggregationTree) Leaves(version string) []Leaf {
	leaf_list := []Leaf{}
	toolchain_map, present := t.versions.Get(version)
	if !present {
		return leaf_list
	}
	for tc := toolchain_map.Oldest(); tc != nil; tc = tc.Next() {
		for tcv := tc.Value.Oldest(); tcv != nil; tcv = tcv.Next() {
			for arch := tcv.Value.Oldest(); arch != nil; arch = arch.Next() {
				leaf_list = append(leaf_list, Leaf{
					TreePath: TreePath{
						Version:          version,
						Toolchain:        tc.Key,
						ToolchainVersion: tcv.Key,
						Arch:             arch.Key,
					},
					PackageName: arch.Value,
				})
			}
		}
	}
	return leaf_list
}

// returns a new tree sharing this tree's branches with the top-level keys ordered by
// semantic version, newest first.
func (t *AggregationTree) Sorted() (*AggregationTree, error) {
	type keyed struct {
		key    string
		semver SemVer
	}
	keyed_list := []keyed{}
	for pair := t.versions.Oldest(); pair != nil; pair = pair.Next() {
		semver, err := parse_semver(pair.Key)
		if err != nil {
			return nil, err
		}
		keyed_list = append(keyed_list, keyed{pair.Key, semver})
	}

	slices.SortStableFunc(keyed_list, func(a, b keyed) int {
		return b.semver.Compare(a.semver)
	})

	sorted := NewAggregationTree()
	for _, k := range keyed_list {
		toolchain_map, _ := t.versions.Get(k.key)
		sorted.versions.Set(k.key, toolchain_map)
	}
	ensure(sorted.versions.Len() == t.versions.Len(), "sorted tree lost versions")
	return sorted, nil
}

func (t *AggregationTree) MarshalJSON() ([]byte, error) {
	return t.versions.MarshalJSON()
}
