package repository

import (
	"math/rand/v2"
	"sync"

	"github.com/okian/rumble/internal/domain/types"
)

// Standings is an order-statistics treap over (points desc, id asc).
//
// In-order traversal yields the leaderboard from best to worst; subtree
// sizes give a player's rank in O(log n) expected time.
type Standings struct {
	mu    sync.RWMutex
	root  *node
	byID  map[string]standing
	names map[string]string
}

type standing struct {
	points int
}

type node struct {
	id     string
	points int
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aPts, aID) ranks before (bPts, bID).
func less(aPts int, aID string, bPts int, bID string) bool {
	if aPts != bPts {
		return aPts > bPts
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, points int) *node {
	if n == nil {
		return &node{id: id, points: points, prio: rand.Uint64(), size: 1}
	}
	if less(points, id, n.points, n.id) {
		n.left = insert(n.left, id, points)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, points)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, points int) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id && n.points == points:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, id, points)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, points)
		}
	case less(points, id, n.points, n.id):
		n.left = remove(n.left, id, points)
	default:
		n.right = remove(n.right, id, points)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes have strictly more than points.
func countAbove(n *node, points int) int {
	count := 0
	for n != nil {
		if n.points > points {
			count += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

func collect(n *node, limit int, names map[string]string, out *[]types.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collect(n.left, limit, names, out)
	if len(*out) < limit {
		*out = append(*out, types.Entry{PlayerID: n.id, DisplayName: names[n.id], Points: n.points})
	}
	collect(n.right, limit, names, out)
}

// NewStandings returns an empty standings tree.
func NewStandings() *Standings {
	return &Standings{
		byID:  make(map[string]standing),
		names: make(map[string]string),
	}
}

// Set places a player at the given points, moving it if already present.
func (s *Standings) Set(id, displayName string, points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[id]; ok {
		if old.points == points {
			s.names[id] = displayName
			return
		}
		s.root = remove(s.root, id, old.points)
	}
	s.byID[id] = standing{points: points}
	s.names[id] = displayName
	s.root = insert(s.root, id, points)
}

// Top returns up to n rows with competition ranks.
func (s *Standings) Top(n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Entry, 0, min(n, len(s.byID)))
	collect(s.root, n, s.names, &out)
	AssignRanks(out)
	return out, nil
}

// Rank returns one player's row.
func (s *Standings) Rank(id string) (types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[id]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	return types.Entry{
		Rank:        countAbove(s.root, st.points) + 1,
		PlayerID:    id,
		DisplayName: s.names[id],
		Points:      st.points,
	}, nil
}

// Len returns the number of tracked players.
func (s *Standings) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
