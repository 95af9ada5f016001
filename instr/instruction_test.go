package instr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/instr"
)

var _ = Describe("Instruction", func() {
	Describe("MaxEMul", func() {
		It("returns 1 for scalar instructions", func() {
			i := &instr.Instruction{Mnemonic: "add"}
			Expect(i.MaxEMul()).To(Equal(1.0))
		})

		It("returns LMul for a non-widening vector op", func() {
			lmul := 2.0
			i := &instr.Instruction{Mnemonic: "vadd.vv", LMul: &lmul}
			Expect(i.MaxEMul()).To(Equal(2.0))
		})

		It("doubles LMul for a widening destination op", func() {
			lmul := 1.0
			i := &instr.Instruction{Mnemonic: "vwadd.vv", LMul: &lmul}
			Expect(i.MaxEMul()).To(Equal(2.0))
		})

		It("doubles LMul for a .wv widened source op", func() {
			lmul := 0.5
			i := &instr.Instruction{Mnemonic: "vfadd.wv", LMul: &lmul}
			Expect(i.MaxEMul()).To(Equal(1.0))
		})
	})

	Describe("ConflictsWith", func() {
		It("reports no conflict for disjoint register sets", func() {
			a := &instr.Instruction{Outputs: map[instr.RegFile][]string{instr.Scalar: {"x1"}}}
			b := &instr.Instruction{Outputs: map[instr.RegFile][]string{instr.Scalar: {"x2"}}}
			Expect(a.ConflictsWith(b)).To(BeFalse())
		})

		It("reports a conflict when registers overlap in the same file", func() {
			a := &instr.Instruction{Outputs: map[instr.RegFile][]string{instr.Scalar: {"x1"}}}
			b := &instr.Instruction{Inputs: map[instr.RegFile][]string{instr.Scalar: {"x1"}}}
			Expect(a.ConflictsWith(b)).To(BeTrue())
		})

		It("does not conflict when the same name appears in different files", func() {
			a := &instr.Instruction{Outputs: map[instr.RegFile][]string{instr.Scalar: {"v0"}}}
			b := &instr.Instruction{Inputs: map[instr.RegFile][]string{instr.Vector: {"v0"}}}
			Expect(a.ConflictsWith(b)).To(BeFalse())
		})
	})

	Describe("IsVectorReg", func() {
		It("recognizes vector register names", func() {
			Expect(instr.IsVectorReg("v3")).To(BeTrue())
			Expect(instr.IsVectorReg("x3")).To(BeFalse())
		})
	})
})
