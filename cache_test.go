package roadsnap_test

import (
	"errors"
	"io"

	"github.com/bsm/roadsnap"
	"github.com/bsm/roadsnap/compactmap"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("PagedCache", func() {
	var shard *roadsnap.Shard
	var subject *roadsnap.PagedCache[int64, *roadsnap.Node]

	newNodeCache := func(limit int, shards ...*roadsnap.Shard) (*roadsnap.PagedCache[int64, *roadsnap.Node], error) {
		var indexes []*roadsnap.OffsetIndex[int64]
		for _, s := range shards {
			indexes = append(indexes, s.Nodes())
		}
		return roadsnap.NewPagedCache(indexes, compactmap.Int64Hash, roadsnap.LoadNode, &roadsnap.CacheOptions{
			MemoryLimit: limit,
			ExtraOffset: 8,
		})
	}

	BeforeEach(func() {
		var err error
		shard, err = seedGridShard(20)
		Expect(err).NotTo(HaveOccurred())

		subject, err = newNodeCache(8, shard)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should validate arguments", func() {
		_, err := roadsnap.NewPagedCache[int64, *roadsnap.Node](nil, nil, roadsnap.LoadNode, nil)
		Expect(err).To(Equal(compactmap.ErrInvalidArgument))
		_, err = roadsnap.NewPagedCache[int64, *roadsnap.Node](nil, compactmap.Int64Hash, nil, nil)
		Expect(err).To(Equal(compactmap.ErrInvalidArgument))
	})

	It("should get", func() {
		node, err := subject.Get(3)
		Expect(err).NotTo(HaveOccurred())
		Expect(node.ID).To(Equal(int64(3)))
		Expect(float64(node.Lat)).To(BeNumerically("~", 51.503, 1e-4))
		Expect(node.Elevation).To(Equal(int16(3)))

		_, err = subject.Get(21)
		Expect(err).To(Equal(roadsnap.ErrNotFound))
		_, err = subject.Get(0)
		Expect(err).To(Equal(roadsnap.ErrNotFound))
	})

	It("should return the same value cold and warm", func() {
		cold, err := subject.Get(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Get(5)).To(BeIdenticalTo(cold))

		subject.Clear()
		Expect(subject.Len()).To(BeZero())
		Expect(subject.Get(5)).To(Equal(cold))

		for id := int64(1); id <= 25; id++ {
			_, err := subject.Get(id)
			if id <= 20 {
				Expect(err).NotTo(HaveOccurred(), "for %d", id)
			} else {
				Expect(err).To(Equal(roadsnap.ErrNotFound), "for %d", id)
			}
		}
	})

	It("should check keys without loading", func() {
		Expect(subject.ContainsKey(1)).To(BeTrue())
		Expect(subject.ContainsKey(20)).To(BeTrue())
		Expect(subject.ContainsKey(21)).To(BeFalse())
		Expect(subject.Len()).To(BeZero())
		Expect(subject.Stats().Loads).To(BeZero())
	})

	It("should evict in insertion order", func() {
		for id := int64(1); id <= 9; id++ {
			_, err := subject.Get(id)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(subject.Len()).To(Equal(8))
		Expect(subject.Stats()).To(Equal(roadsnap.Stats{
			Shards:      1,
			Resident:    8,
			MemoryLimit: 8,
			Misses:      9,
			Loads:       9,
			Evictions:   1,
		}))

		// 2..9 are resident
		for id := int64(2); id <= 9; id++ {
			_, err := subject.Get(id)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(subject.Stats().Loads).To(Equal(uint64(9)))
		Expect(subject.Stats().Hits).To(Equal(uint64(8)))

		// 1 was evicted, reloading it evicts 2
		_, err := subject.Get(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Stats().Loads).To(Equal(uint64(10)))
		Expect(subject.Stats().Evictions).To(Equal(uint64(2)))

		_, err = subject.Get(3)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Stats().Loads).To(Equal(uint64(10)))

		_, err = subject.Get(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Stats().Loads).To(Equal(uint64(11)))
	})

	It("should evict regardless of access frequency", func() {
		for i := 0; i < 5; i++ {
			_, err := subject.Get(1)
			Expect(err).NotTo(HaveOccurred())
		}
		for id := int64(2); id <= 9; id++ {
			_, err := subject.Get(id)
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := subject.Get(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Stats().Loads).To(Equal(uint64(10)))
	})

	It("should not support enumeration", func() {
		Expect(subject.Each(func(int64, *roadsnap.Node) bool { return true })).To(Equal(roadsnap.ErrUnsupported))
	})

	It("should fork", func() {
		_, err := subject.Get(1)
		Expect(err).NotTo(HaveOccurred())

		fork := subject.Fork()
		Expect(fork.Len()).To(BeZero())
		Expect(fork.Stats()).To(Equal(roadsnap.Stats{Shards: 1, MemoryLimit: 8}))
		nodes, _ := seedGrid(1)
		Expect(fork.Get(1)).To(Equal(&nodes[0]))
		Expect(subject.Stats().Loads).To(Equal(uint64(1)))
		Expect(subject.Len()).To(Equal(1))
		Expect(fork.Len()).To(Equal(1))
	})

	It("should format stats", func() {
		_, err := subject.Get(1)
		Expect(err).NotTo(HaveOccurred())
		_, err = subject.Get(1)
		Expect(err).NotTo(HaveOccurred())

		Expect(subject.Stats().String()).To(Equal(`shards=1 resident=1/8 hits=1 misses=1 loads=1 evictions=0`))
	})

	Describe("across shards", func() {
		var equal, conflicting *roadsnap.Shard

		BeforeEach(func() {
			var err error
			equal, err = seedNodeShard(roadsnap.Node{ID: 42, Lat: 51.501, Lng: -0.119, Elevation: 1})
			Expect(err).NotTo(HaveOccurred())
			conflicting, err = seedNodeShard(roadsnap.Node{ID: 42, Lat: 48.85, Lng: 2.35})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should merge equal records", func() {
			primary, err := seedNodeShard(roadsnap.Node{ID: 42, Lat: 51.501, Lng: -0.119, Elevation: 1})
			Expect(err).NotTo(HaveOccurred())

			cache, err := newNodeCache(8, primary, equal)
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.Get(42)).To(Equal(&roadsnap.Node{ID: 42, Lat: 51.501, Lng: -0.119, Elevation: 1}))
		})

		It("should propagate conflicts", func() {
			primary, err := seedNodeShard(roadsnap.Node{ID: 42, Lat: 51.501, Lng: -0.119, Elevation: 1})
			Expect(err).NotTo(HaveOccurred())

			cache, err := newNodeCache(8, primary, conflicting)
			Expect(err).NotTo(HaveOccurred())

			_, err = cache.Get(42)
			Expect(errors.Is(err, roadsnap.ErrConflict)).To(BeTrue())
			Expect(err).To(MatchError(`roadsnap: conflicting shard records: node 42`))
			Expect(cache.Len()).To(BeZero())
		})

		It("should pass one record per shard", func() {
			var calls, records int
			load := func(id int64, rs []io.Reader) (*roadsnap.Node, error) {
				calls++
				records = len(rs)
				return roadsnap.LoadNode(id, rs)
			}

			cache, err := roadsnap.NewPagedCache(
				[]*roadsnap.OffsetIndex[int64]{shard.Nodes(), equal.Nodes(), conflicting.Nodes()},
				compactmap.Int64Hash, load, &roadsnap.CacheOptions{ExtraOffset: 8})
			Expect(err).NotTo(HaveOccurred())

			_, err = cache.Get(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(Equal(1))

			_, err = cache.Get(42)
			Expect(err).To(HaveOccurred())
			Expect(records).To(Equal(2))
			Expect(calls).To(Equal(2))

			_, err = cache.Get(43)
			Expect(err).To(Equal(roadsnap.ErrNotFound))
			Expect(calls).To(Equal(2))
		})

		It("should propagate loader errors unchanged", func() {
			errBoom := errors.New("boom")
			cache, err := roadsnap.NewPagedCache(
				[]*roadsnap.OffsetIndex[int64]{equal.Nodes()},
				compactmap.Int64Hash,
				func(int64, []io.Reader) (*roadsnap.Node, error) { return nil, errBoom },
				nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = cache.Get(42)
			Expect(err).To(BeIdenticalTo(errBoom))
			Expect(cache.Stats().Loads).To(BeZero())
		})
	})
})

func seedNodeShard(nodes ...roadsnap.Node) (*roadsnap.Shard, error) {
	data, err := seedShard(nodes, nil, nil)
	if err != nil {
		return nil, err
	}
	return openShard(data)
}
