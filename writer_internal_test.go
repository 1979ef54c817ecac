package roadsnap

import (
	"math"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("entityCount", func() {
	It("should fit header counts", func() {
		Expect(entityCount("nodes", 0)).To(Equal(int32(0)))
		Expect(entityCount("nodes", math.MaxInt32)).To(Equal(int32(math.MaxInt32)))
	})

	It("should reject overflowing counts", func() {
		_, err := entityCount("roads", math.MaxInt32+1)
		Expect(err).To(MatchError(`roadsnap: too many roads: 2147483648`))
	})
})
