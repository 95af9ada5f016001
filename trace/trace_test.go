package trace_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/trace"
)

var _ = Describe("JSONTrace", func() {
	It("streams records and reports EOF after the last one", func() {
		var buf bytes.Buffer
		buf.WriteString(`{"mnemonic":"add","addr":4096,"operands":["x1","x2","x3"]}` + "\n")
		buf.WriteString(`{"mnemonic":"nop","addr":4100,"is_nop":true}` + "\n")

		tr := trace.NewJSON(&buf)
		Expect(tr.EOF()).To(BeFalse())
		Expect(tr.NextAddr()).To(BeEquivalentTo(4096))

		i1, err := tr.Dequeue()
		Expect(err).NotTo(HaveOccurred())
		Expect(i1.Mnemonic).To(Equal("add"))

		Expect(tr.NextAddr()).To(BeEquivalentTo(4100))
		i2, err := tr.Dequeue()
		Expect(err).NotTo(HaveOccurred())
		Expect(i2.IsNop).To(BeTrue())

		Expect(tr.EOF()).To(BeTrue())
		i3, err := tr.Dequeue()
		Expect(err).NotTo(HaveOccurred())
		Expect(i3).To(BeNil())
	})

	It("rejects a scalar instruction with more than one load", func() {
		var buf bytes.Buffer
		buf.WriteString(`{"mnemonic":"ld","addr":4096,"loads":[8,16]}` + "\n")

		tr := trace.NewJSON(&buf)
		Expect(tr.EOF()).To(BeFalse())
		Expect(tr.Err()).To(HaveOccurred())

		i, err := tr.Dequeue()
		Expect(err).To(HaveOccurred())
		Expect(i).To(BeNil())
	})

	It("accepts a vector instruction with more than one load", func() {
		lmul := 1.0
		rec := map[string]any{
			"mnemonic": "vle32.v", "addr": 4096, "loads": []uint64{8, 12, 16, 20}, "lmul": lmul,
		}
		line, _ := json.Marshal(rec)
		var buf bytes.Buffer
		buf.Write(line)
		buf.WriteString("\n")

		tr := trace.NewJSON(&buf)
		Expect(tr.Err()).NotTo(HaveOccurred())

		i, err := tr.Dequeue()
		Expect(err).NotTo(HaveOccurred())
		Expect(i.Loads).To(HaveLen(4))
	})

	It("reports a malformed record as a trace error instead of a clean EOF", func() {
		var buf bytes.Buffer
		buf.WriteString(`{"mnemonic":"add","addr":4096}` + "\n")
		buf.WriteString(`not json` + "\n")

		tr := trace.NewJSON(&buf)
		_, err := tr.Dequeue()
		Expect(err).NotTo(HaveOccurred())

		Expect(tr.EOF()).To(BeFalse())
		Expect(tr.Err()).To(HaveOccurred())

		i, err := tr.Dequeue()
		Expect(err).To(HaveOccurred())
		Expect(i).To(BeNil())
	})
})

var _ = Describe("BinaryTrace", func() {
	It("reads length-prefixed JSON frames", func() {
		rec, _ := json.Marshal(map[string]any{"mnemonic": "sub", "addr": 8})
		var buf bytes.Buffer
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		buf.Write(lenBuf[:])
		buf.Write(rec)

		tr := trace.NewBinary(&buf)
		Expect(tr.EOF()).To(BeFalse())
		i, err := tr.Dequeue()
		Expect(err).NotTo(HaveOccurred())
		Expect(i.Mnemonic).To(Equal("sub"))
		Expect(tr.EOF()).To(BeTrue())
	})

	It("reports a truncated frame as a trace error instead of a clean EOF", func() {
		rec, _ := json.Marshal(map[string]any{"mnemonic": "sub", "addr": 8})
		var buf bytes.Buffer
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)+4))
		buf.Write(lenBuf[:])
		buf.Write(rec)

		tr := trace.NewBinary(&buf)
		Expect(tr.EOF()).To(BeFalse())
		Expect(tr.Err()).To(HaveOccurred())

		i, err := tr.Dequeue()
		Expect(err).To(HaveOccurred())
		Expect(i).To(BeNil())
	})
})
