package locator

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/soltixdb/shardgate/internal/topology"
)

// KetamaReplicas is the number of ring points per node
const KetamaReplicas = 160

// ring is an immutable ketama snapshot: points sorted ascending, owners[i]
// owns points[i]
type ring struct {
	points []uint32
	owners []*topology.Node
}

// Ketama implements ketama-style consistent hashing.
//
// Rebuilds are always full and serialized on mu; the finished ring is
// published through an atomic pointer so Locate never blocks and never sees
// a partially built ring.
type Ketama struct {
	mu    sync.Mutex
	nodes []*topology.Node
	ring  atomic.Pointer[ring]
}

// NewKetama builds a ring over nodes
func NewKetama(nodes []*topology.Node) *Ketama {
	k := &Ketama{}
	k.nodes = append([]*topology.Node(nil), nodes...)
	k.rebuild()
	return k
}

// KetamaHash hashes a key the way ring points are hashed: the first four MD5
// bytes read little-endian
func KetamaHash(key string) uint32 {
	digest := md5.Sum([]byte(key))
	return binary.LittleEndian.Uint32(digest[0:4])
}

// rebuild recomputes the ring from k.nodes. Caller holds mu (or owns k).
func (k *Ketama) rebuild() {
	type point struct {
		hash  uint32
		owner *topology.Node
	}

	byHash := make(map[uint32]*topology.Node, len(k.nodes)*KetamaReplicas)
	buf := make([]byte, 0, 64)
	for _, node := range k.nodes {
		name := node.Name()
		for i := 0; i < KetamaReplicas/4; i++ {
			buf = buf[:0]
			buf = append(buf, name...)
			buf = append(buf, '-')
			buf = strconv.AppendInt(buf, int64(i), 10)
			digest := md5.Sum(buf)
			for h := 0; h < 4; h++ {
				byHash[binary.LittleEndian.Uint32(digest[h*4:h*4+4])] = node
			}
		}
	}

	points := make([]point, 0, len(byHash))
	for h, n := range byHash {
		points = append(points, point{hash: h, owner: n})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].hash < points[j].hash })

	r := &ring{
		points: make([]uint32, len(points)),
		owners: make([]*topology.Node, len(points)),
	}
	for i, p := range points {
		r.points[i] = p.hash
		r.owners[i] = p.owner
	}
	k.ring.Store(r)
}

// Locate returns the owner of the first point at or after the key hash,
// skipping inactive owners and wrapping around the ring once
func (k *Ketama) Locate(key string) (*topology.Node, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key must not be blank", ErrInvalidKey)
	}
	r := k.ring.Load()
	if r == nil || len(r.points) == 0 {
		return nil, fmt.Errorf("%w: ring is empty", ErrNodeNotFound)
	}

	hash := KetamaHash(key)
	start := sort.Search(len(r.points), func(i int) bool {
		return r.points[i] >= hash
	})
	if start >= len(r.points) {
		start = 0
	}

	for i := 0; i < len(r.points); i++ {
		owner := r.owners[(start+i)%len(r.points)]
		if owner.IsActive() {
			return owner, nil
		}
	}
	return nil, fmt.Errorf("%w: no active node for hash %d", ErrNodeNotFound, hash)
}

// AddNode adds node if it is not on the ring yet
func (k *Ketama) AddNode(node *topology.Node) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if indexOf(k.nodes, node) >= 0 {
		return nil
	}
	k.nodes = append(k.nodes, node)
	k.rebuild()
	return nil
}

// RemoveNode removes node unless it is the last one on the ring
func (k *Ketama) RemoveNode(node *topology.Node, skipProbe bool) error {
	if skipProbe {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.nodes) <= 1 {
		return nil
	}
	idx := indexOf(k.nodes, node)
	if idx < 0 {
		return nil
	}
	next := make([]*topology.Node, 0, len(k.nodes)-1)
	next = append(next, k.nodes[:idx]...)
	next = append(next, k.nodes[idx+1:]...)
	k.nodes = next
	k.rebuild()
	return nil
}

func (k *Ketama) ReplaceAll(nodes []*topology.Node) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.nodes = append([]*topology.Node(nil), nodes...)
	k.rebuild()
}

// Size returns the number of ring points
func (k *Ketama) Size() int {
	r := k.ring.Load()
	if r == nil {
		return 0
	}
	return len(r.points)
}
