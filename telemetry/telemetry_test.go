package telemetry_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/telemetry"
)

var _ = Describe("Logger", func() {
	It("stays silent unless verbose is set", func() {
		var buf bytes.Buffer
		log := telemetry.New(&buf, false, 0)

		log.Unit("FE")("fetched something")
		log.Printf("cycle event")

		Expect(buf.Len()).To(BeZero())
	})

	It("suppresses messages before the print-from cycle", func() {
		var buf bytes.Buffer
		log := telemetry.New(&buf, true, 50)

		log.SetCycle(49)
		log.Unit("FE")("too early")
		Expect(buf.Len()).To(BeZero())

		log.SetCycle(50)
		log.Unit("FE")("in range")
		Expect(buf.String()).To(ContainSubstring("@50 [FE] in range"))
	})

	It("tags messages with the unit name and cycle", func() {
		var buf bytes.Buffer
		log := telemetry.New(&buf, true, 0)

		log.SetCycle(7)
		log.Unit("SC")("queued")

		Expect(buf.String()).To(Equal("@7 [SC] queued\n"))
	})
})
