package fetch_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/fetch"
	"github.com/sarchlab/tbsim/trace"
)

var _ = Describe("Unit", func() {
	It("fetches one fetch_rate-sized batch per cycle into the queue", func() {
		var buf bytes.Buffer
		buf.WriteString(`{"mnemonic":"add","addr":0}` + "\n")
		buf.WriteString(`{"mnemonic":"sub","addr":4}` + "\n")
		tr := trace.NewJSON(&buf)

		u := fetch.New(fetch.Config{
			BranchPrediction: fetch.PredictionPerfect,
			FetchRate:        2,
		}, tr)
		cntr := counter.New()
		u.Reset(cntr)

		Expect(u.Tick(1, cntr)).To(Succeed())
		u.Tock(cntr)

		Expect(u.Pending()).To(Equal(2))
	})

	It("stalls fetch when the queue lacks room for a full batch", func() {
		var buf bytes.Buffer
		buf.WriteString(`{"mnemonic":"add","addr":0}` + "\n")
		tr := trace.NewJSON(&buf)

		size := 0
		u := fetch.New(fetch.Config{
			BranchPrediction: fetch.PredictionPerfect,
			FetchRate:        1,
			FetchQueueSize:   &size,
		}, tr)
		cntr := counter.New()
		u.Reset(cntr)

		Expect(u.Tick(1, cntr)).To(Succeed())
		Expect(cntr.Stalls["FE"]).To(Equal(1))
	})

	It("surfaces a trace decode error instead of reporting a clean EOF", func() {
		var buf bytes.Buffer
		buf.WriteString(`{"mnemonic":"ld","addr":0,"loads":[8,16]}` + "\n")
		tr := trace.NewJSON(&buf)

		u := fetch.New(fetch.Config{
			BranchPrediction: fetch.PredictionPerfect,
			FetchRate:        1,
		}, tr)
		cntr := counter.New()
		u.Reset(cntr)

		Expect(u.Tick(1, cntr)).To(HaveOccurred())
	})
})
