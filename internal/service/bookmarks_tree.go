// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"fmt"

	"github.com/MKhiriev/go-sync-keeper/internal/store"
	"github.com/MKhiriev/go-sync-keeper/models"
)

// bookmarkNode is one item of an inflated bookmark tree, local or remote.
type bookmarkNode struct {
	guid           models.Guid
	kind           models.BookmarkKind
	title          string
	url            string
	keyword        string
	dateAdded      models.Timestamp
	position       int64
	counter        int64
	validity       models.BookmarkValidity
	serverModified models.ServerTimestamp
	needsMerge     bool

	level    int64
	syncable bool
	parent   *bookmarkNode
	children []*bookmarkNode
}

// bookmarkTree is a pseudo-tree built from unordered rows: a real tree for
// everything reachable from the places root, plus the leftovers the builder
// could not attach.
type bookmarkTree struct {
	root    *bookmarkNode
	byGuid  map[models.Guid]*bookmarkNode
	orphans []*bookmarkNode
	deleted map[models.Guid]models.ServerTimestamp
}

func (t *bookmarkTree) node(guid models.Guid) *bookmarkNode {
	return t.byGuid[guid]
}

// attach links child under parent at the end of its child list.
func (t *bookmarkTree) attach(parent, child *bookmarkNode) {
	child.parent = parent
	parent.children = append(parent.children, child)
}

// inflate walks the tree from the root with an explicit stack, assigning
// levels and propagating syncability. Legacy live-feed folders and everything
// under them are not syncable. Nodes the walk never reaches indicate a cycle
// or a detached subtree and fail the well-formedness check.
func (t *bookmarkTree) inflate() error {
	t.root.level = 0
	t.root.syncable = false

	visited := 1
	stack := []*bookmarkNode{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, child := range n.children {
			child.level = n.level + 1

			if n == t.root {
				child.syncable = child.guid.IsBuiltin()
			} else {
				child.syncable = n.syncable
			}
			if child.kind == models.KindLivemark {
				child.syncable = false
			}

			visited++
			stack = append(stack, child)
		}
	}

	if visited != len(t.byGuid) {
		return fmt.Errorf("%w: %d of %d bookmark nodes unreachable from the root",
			ErrCorruption, len(t.byGuid)-visited, len(t.byGuid))
	}
	return nil
}

// buildLocalTree assembles the local pseudo-tree from rows ordered by depth,
// so every parent is constructed before its children arrive.
func buildLocalTree(rows []store.LocalBookmarkRow) (*bookmarkTree, error) {
	t := &bookmarkTree{
		byGuid:  make(map[models.Guid]*bookmarkNode, len(rows)),
		deleted: map[models.Guid]models.ServerTimestamp{},
	}

	for _, row := range rows {
		node := &bookmarkNode{
			guid:      row.Guid,
			kind:      row.Kind,
			title:     row.Title,
			url:       row.URL.String,
			keyword:   row.Keyword.String,
			dateAdded: row.DateAdded,
			position:  row.Position,
			counter:   row.ChangeCounter,
		}
		t.byGuid[row.Guid] = node

		if !row.ParentGuid.Valid {
			if row.Guid != models.RootGuid {
				return nil, fmt.Errorf("%w: parentless bookmark %q is not the root", ErrCorruption, row.Guid)
			}
			t.root = node
			continue
		}

		parent := t.byGuid[models.Guid(row.ParentGuid.String)]
		if parent == nil {
			return nil, fmt.Errorf("%w: bookmark %q references missing parent %q",
				ErrCorruption, row.Guid, row.ParentGuid.String)
		}
		t.attach(parent, node)
	}

	if t.root == nil {
		return nil, fmt.Errorf("%w: local bookmark root missing", ErrCorruption)
	}
	if err := t.inflate(); err != nil {
		return nil, err
	}
	return t, nil
}

// buildRemoteTree assembles the server's view from the synced rows. Remote
// tombstones go into the deleted set. Items the server never placed in any
// folder become orphans; the merge reparents them under the unfiled root.
func buildRemoteTree(rows []store.SyncedBookmarkRow) (*bookmarkTree, error) {
	t := &bookmarkTree{
		byGuid:  make(map[models.Guid]*bookmarkNode, len(rows)+1),
		deleted: map[models.Guid]models.ServerTimestamp{},
	}

	t.root = &bookmarkNode{guid: models.RootGuid, kind: models.KindFolder}
	t.byGuid[models.RootGuid] = t.root

	type pending struct {
		node       *bookmarkNode
		parentGuid models.Guid
		hasParent  bool
	}
	var items []pending

	for _, row := range rows {
		if row.IsDeleted {
			t.deleted[row.Guid] = row.ServerModified
			continue
		}
		if row.Guid == models.RootGuid {
			continue
		}

		node := &bookmarkNode{
			guid:           row.Guid,
			kind:           models.BookmarkKind(row.Kind.Int64),
			title:          row.Title.String,
			url:            row.URL.String,
			keyword:        row.Keyword.String,
			dateAdded:      row.DateAdded,
			validity:       row.Validity,
			serverModified: row.ServerModified,
			needsMerge:     row.NeedsMerge,
		}
		if row.Position.Valid {
			node.position = row.Position.Int64
		}
		t.byGuid[row.Guid] = node

		p := pending{node: node}
		if row.ParentGuid.Valid {
			p.parentGuid = models.Guid(row.ParentGuid.String)
			p.hasParent = true
		}
		items = append(items, p)
	}

	for _, p := range items {
		if p.node.guid.IsBuiltin() {
			t.attach(t.root, p.node)
			continue
		}
		if !p.hasParent {
			t.orphans = append(t.orphans, p.node)
			continue
		}
		parent := t.byGuid[p.parentGuid]
		if parent == nil || parent.kind != models.KindFolder {
			t.orphans = append(t.orphans, p.node)
			continue
		}
		t.attach(parent, p.node)
	}

	// rows arrive ordered by (parent, position) so child lists are already
	// in server order; orphans count as unreachable only if left unattached
	for _, orphan := range t.orphans {
		delete(t.byGuid, orphan.guid)
		detachSubtree(t, orphan)
	}

	if err := t.inflate(); err != nil {
		return nil, err
	}
	return t, nil
}

// detachSubtree removes every descendant of n from the guid index so the
// reachability check only covers the attached tree. The orphans themselves
// are still merged, just without structural context.
func detachSubtree(t *bookmarkTree, n *bookmarkNode) {
	for _, child := range n.children {
		delete(t.byGuid, child.guid)
		detachSubtree(t, child)
	}
}

// subtreeHasChanges reports whether the node or any descendant carries an
// unuploaded local change.
func subtreeHasChanges(n *bookmarkNode) bool {
	if n.counter > 0 {
		return true
	}
	for _, child := range n.children {
		if subtreeHasChanges(child) {
			return true
		}
	}
	return false
}

// contentEqual compares the user-visible fields of a local and a remote node.
func contentEqual(local, remote *bookmarkNode) bool {
	return local.kind == remote.kind &&
		local.title == remote.title &&
		local.url == remote.url &&
		local.keyword == remote.keyword
}
