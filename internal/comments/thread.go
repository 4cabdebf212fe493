package comments

import (
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
)

// Group arranges comments, which must be ordered oldest first, into threads.
// Replies of replies are flattened onto their nearest root, and replies
// whose ancestors are gone are shown as roots.
func Group(all []entities.ScanComment) []Thread {
	byID := make(map[uint]*entities.ScanComment, len(all))
	for i := range all {
		byID[all[i].ID] = &all[i]
	}

	rootOf := func(c *entities.ScanComment) uint {
		seen := map[uint]bool{c.ID: true}
		cur := c
		for cur.ParentID != nil {
			parent, ok := byID[*cur.ParentID]
			if !ok || seen[parent.ID] {
				break
			}
			seen[parent.ID] = true
			cur = parent
		}
		return cur.ID
	}

	threads := make([]Thread, 0)
	index := make(map[uint]int)
	for i := range all {
		c := &all[i]
		root := rootOf(c)
		if root == c.ID {
			index[c.ID] = len(threads)
			threads = append(threads, Thread{ScanComment: *c, Replies: []entities.ScanComment{}})
		}
	}
	for i := range all {
		c := &all[i]
		root := rootOf(c)
		if root == c.ID {
			continue
		}
		pos, ok := index[root]
		if !ok {
			// A parent cycle has no root; show the comment on its own
			threads = append(threads, Thread{ScanComment: *c, Replies: []entities.ScanComment{}})
			continue
		}
		threads[pos].Replies = append(threads[pos].Replies, *c)
	}
	return threads
}
