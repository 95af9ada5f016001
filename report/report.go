// Package report serializes Counter aggregates to a stable, versioned
// binary format suitable for addition-merge across runs. Every saved file
// is stamped with a globally unique run
// identifier so the merge tool can refuse to fold the same run in twice.
package report

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/xid"

	"github.com/sarchlab/tbsim/counter"
)

// magic identifies a tbsim counter file.
var magic = [4]byte{'T', 'B', 'C', 'T'}

// formatVersion is bumped whenever the field layout changes; readers reject
// versions they don't know.
const formatVersion uint16 = 1

// Run is one deserialized counter file: the statistics plus the identifier
// of the run (or merge) that produced them.
type Run struct {
	ID      xid.ID
	Counter *counter.Counter
}

// Save writes cntr to w, stamped with a fresh run identifier, and returns
// that identifier.
func Save(w io.Writer, cntr *counter.Counter) (xid.ID, error) {
	id := xid.New()
	return id, SaveAs(w, cntr, id)
}

// SaveAs writes cntr to w under the given run identifier.
func SaveAs(w io.Writer, cntr *counter.Counter, id xid.ID) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	if _, err := w.Write(id.Bytes()); err != nil {
		return err
	}

	for _, v := range []uint64{
		cntr.Cycles,
		cntr.RetiredInstructionCount,
		cntr.BranchCount,
		cntr.ScalarLoadStore,
		cntr.ScalarLoadStoreStall,
		cntr.VectorLoadStore,
		cntr.VectorLoadStoreStall,
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	stallNames := sortedKeys(cntr.Stalls)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(stallNames))); err != nil {
		return err
	}
	for _, name := range stallNames {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int64(cntr.Stalls[name])); err != nil {
			return err
		}
	}

	utilNames := sortedKeys(cntr.Utilizations)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(utilNames))); err != nil {
		return err
	}
	for _, name := range utilNames {
		u := cntr.Utilizations[name]
		if err := writeString(w, name); err != nil {
			return err
		}
		size := int64(-1)
		if u.Size != nil {
			size = int64(*u.Size)
		}
		for _, v := range []int64{size, int64(u.Count), int64(u.Occupied)} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}

	return nil
}

// Load reads one counter file from r.
func Load(r io.Reader) (*Run, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("not a tbsim counter file")
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported counter file version %d", version)
	}

	var rawID [12]byte
	if _, err := io.ReadFull(r, rawID[:]); err != nil {
		return nil, err
	}
	id, err := xid.FromBytes(rawID[:])
	if err != nil {
		return nil, err
	}

	cntr := counter.New()
	for _, dst := range []*uint64{
		&cntr.Cycles,
		&cntr.RetiredInstructionCount,
		&cntr.BranchCount,
		&cntr.ScalarLoadStore,
		&cntr.ScalarLoadStoreStall,
		&cntr.VectorLoadStore,
		&cntr.VectorLoadStoreStall,
	} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, err
		}
	}

	var nStalls uint32
	if err := binary.Read(r, binary.LittleEndian, &nStalls); err != nil {
		return nil, err
	}
	for i := uint32(0); i < nStalls; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		cntr.Stalls[name] = int(v)
	}

	var nUtils uint32
	if err := binary.Read(r, binary.LittleEndian, &nUtils); err != nil {
		return nil, err
	}
	for i := uint32(0); i < nUtils; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var size, count, occupied int64
		for _, dst := range []*int64{&size, &count, &occupied} {
			if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
				return nil, err
			}
		}
		u := &counter.Utilization{Count: int(count), Occupied: int(occupied)}
		if size >= 0 {
			s := int(size)
			u.Size = &s
		}
		cntr.Utilizations[name] = u
	}

	return &Run{ID: id, Counter: cntr}, nil
}

// SaveFile writes cntr to path, returning the run identifier it was stamped
// with.
func SaveFile(path string, cntr *counter.Counter) (xid.ID, error) {
	f, err := os.Create(path)
	if err != nil {
		return xid.ID{}, err
	}
	defer f.Close()
	return Save(f, cntr)
}

// LoadFile reads the counter file at path.
func LoadFile(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
