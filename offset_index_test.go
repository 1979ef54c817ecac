package roadsnap_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/ioutil"

	"github.com/bsm/roadsnap"
	"github.com/bsm/roadsnap/compactmap"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("OffsetIndex", func() {
	var blob []byte
	var subject *roadsnap.OffsetIndex[int64]

	appendEntry := func(dst []byte, key, off int64) []byte {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(key))
		return binary.LittleEndian.AppendUint64(dst, uint64(off))
	}

	// The blob holds a table of three entries at 0..48 and three
	// 16-byte records at 64, 80 and 96.
	BeforeEach(func() {
		blob = appendEntry(nil, 5, 80)
		blob = appendEntry(blob, -2, 64)
		blob = appendEntry(blob, 9, 96)
		blob = append(blob, make([]byte, 16)...)
		blob = append(blob, bytes.Repeat([]byte("a"), 16)...)
		blob = append(blob, bytes.Repeat([]byte("b"), 16)...)
		blob = append(blob, bytes.Repeat([]byte("c"), 16)...)

		var err error
		subject, err = roadsnap.ReadOffsetIndex(bytes.NewReader(blob), int64(len(blob)), 0, 3, roadsnap.Int64Keys)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should read", func() {
		Expect(subject.Len()).To(Equal(3))
		Expect(subject.Get(5)).To(Equal(int64(80)))
		Expect(subject.Get(-2)).To(Equal(int64(64)))
		Expect(subject.Get(9)).To(Equal(int64(96)))

		_, err := subject.Get(6)
		Expect(err).To(Equal(roadsnap.ErrNotFound))

		off, ok := subject.TryGet(9)
		Expect(ok).To(BeTrue())
		Expect(off).To(Equal(int64(96)))

		_, ok = subject.TryGet(0)
		Expect(ok).To(BeFalse())
	})

	It("should enumerate", func() {
		seen := make(map[int64]int64)
		subject.Each(func(k, off int64) bool {
			seen[k] = off
			return true
		})
		Expect(seen).To(Equal(map[int64]int64{5: 80, -2: 64, 9: 96}))

		Expect(subject.SortedOffsets()).To(Equal([]roadsnap.KeyOffset[int64]{
			{Key: -2, Offset: 64},
			{Key: 5, Offset: 80},
			{Key: 9, Offset: 96},
		}))
	})

	It("should create independent sections", func() {
		s1 := subject.Section(80)
		s2 := subject.Section(96)

		p := make([]byte, 4)
		_, err := s1.Read(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(p)).To(Equal("bbbb"))

		rest, err := ioutil.ReadAll(s2)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(rest)).To(Equal("cccccccccccccccc"))

		_, err = s1.Read(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(p)).To(Equal("bbbb"))
	})

	It("should read from an offset", func() {
		table := append(make([]byte, 4), blob[:32]...)
		table = append(table, make([]byte, 64)...)

		x, err := roadsnap.ReadOffsetIndex(bytes.NewReader(table), int64(len(table)), 4, 2, roadsnap.Int64Keys)
		Expect(err).NotTo(HaveOccurred())
		Expect(x.Len()).To(Equal(2))
		Expect(x.Get(-2)).To(Equal(int64(64)))
	})

	It("should reject truncated tables", func() {
		_, err := roadsnap.ReadOffsetIndex(bytes.NewReader(blob), 40, 0, 3, roadsnap.Int64Keys)
		Expect(err).To(MatchError(`roadsnap: bad shard header: offset table at 0 exceeds shard`))
	})

	It("should reject out of range offsets", func() {
		_, err := roadsnap.ReadOffsetIndex(bytes.NewReader(blob), 90, 0, 3, roadsnap.Int64Keys)
		Expect(err).To(MatchError(`roadsnap: bad shard header: offset 96 out of range`))
	})

	It("should reject duplicate keys", func() {
		dup := appendEntry(nil, 5, 64)
		dup = appendEntry(dup, 5, 80)
		dup = append(dup, make([]byte, 64)...)

		_, err := roadsnap.ReadOffsetIndex(bytes.NewReader(dup), int64(len(dup)), 0, 2, roadsnap.Int64Keys)
		Expect(errors.Is(err, compactmap.ErrDuplicateKey)).To(BeTrue())
	})

	It("should support custom key formats", func() {
		int32Keys := roadsnap.KeyFormat[int32]{
			Size:   4,
			Decode: func(p []byte) int32 { return int32(binary.LittleEndian.Uint32(p)) },
			Hash:   func(k int32) uint32 { return uint32(k) },
		}

		var table []byte
		for i := int32(0); i < 50; i++ {
			table = binary.LittleEndian.AppendUint32(table, uint32(i*3))
			table = binary.LittleEndian.AppendUint64(table, uint64(i))
		}

		x, err := roadsnap.ReadOffsetIndex(bytes.NewReader(table), int64(len(table)), 0, 50, int32Keys)
		Expect(err).NotTo(HaveOccurred())
		Expect(x.Len()).To(Equal(50))
		Expect(x.Get(0)).To(Equal(int64(0)))
		Expect(x.Get(147)).To(Equal(int64(49)))

		_, err = x.Get(148)
		Expect(err).To(Equal(roadsnap.ErrNotFound))
	})

	It("should wrap prebuilt maps", func() {
		m, err := compactmap.New[string, int64](0, compactmap.StringHash)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Add("ab", 64)).To(Succeed())

		x := roadsnap.NewOffsetIndex(bytes.NewReader(blob), int64(len(blob)), m)
		Expect(x.Get("ab")).To(Equal(int64(64)))

		p := make([]byte, 2)
		_, err = x.Section(64).Read(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(p)).To(Equal("aa"))
	})
})
