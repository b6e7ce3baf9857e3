package wire

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// BuildKeysColumn builds an i64 keys array from a plain slice, with no nulls.
func BuildKeysColumn(mem memory.Allocator, keys []int64) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(keys, nil)
	return b.NewArray()
}

// BuildValuesColumn builds a nullable binary column where a nil element
// denotes a null (missing/deleted) value.
func BuildValuesColumn(mem memory.Allocator, values [][]byte) arrow.Array {
	b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer b.Release()
	for _, v := range values {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
	return b.NewArray()
}

// BuildLengthsColumn builds a nullable u32 lengths column: negative entries
// in lengths denote a missing key (encoded as a null in the wire array).
func BuildLengthsColumn(mem memory.Allocator, lengths []int32) arrow.Array {
	b := array.NewUint32Builder(mem)
	defer b.Release()
	for _, l := range lengths {
		if l < 0 {
			b.AppendNull()
			continue
		}
		b.Append(uint32(l))
	}
	return b.NewArray()
}

// BuildPresencesColumn packs a slice of booleans into a u8 bitmap column of
// length ceil(n/8), bit i set means row i is present.
func BuildPresencesColumn(mem memory.Allocator, present []bool) arrow.Array {
	packed := make([]byte, PresenceBitmapLen(len(present)))
	for i, p := range present {
		if p {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	b := array.NewUint8Builder(mem)
	defer b.Release()
	for _, byt := range packed {
		b.Append(byt)
	}
	return b.NewArray()
}

// BuildOffsetsColumn builds an i64 offsets column (prefix-sum framing), one
// entry longer than the number of logical rows it frames.
func BuildOffsetsColumn(mem memory.Allocator, offsets []int64) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(offsets, nil)
	return b.NewArray()
}

// BuildNamesColumn builds a utf8 names column with no nulls.
func BuildNamesColumn(mem memory.Allocator, names []string) arrow.Array {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.AppendValues(names, nil)
	return b.NewArray()
}

// BuildIDsColumn builds a u64 ids column with no nulls.
func BuildIDsColumn(mem memory.Allocator, ids []uint64) arrow.Array {
	b := array.NewUint64Builder(mem)
	defer b.Release()
	b.AppendValues(ids, nil)
	return b.NewArray()
}

// NewBatch assembles a record batch from a schema and pre-built columns,
// releasing the caller's references (the batch retains its own).
func NewBatch(schema *arrow.Schema, cols []arrow.Array, numRows int64) arrow.RecordBatch {
	batch := array.NewRecordBatch(schema, cols, numRows)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// ExtractInt64Column reads a whole i64 column into a plain slice, applying
// the strided-pointer broadcast convention: if col has exactly one row and
// n > 1 is requested, the single value is broadcast across all n rows
// (stride=0 in the original C ABI's terms).
func ExtractInt64Column(col arrow.Array, n int) ([]int64, error) {
	arr, ok := col.(*array.Int64)
	if !ok {
		return nil, errUnexpectedType("int64", col)
	}
	if arr.Len() == 1 && n > 1 {
		out := make([]int64, n)
		v := arr.Value(0)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
	out := make([]int64, arr.Len())
	for i := range out {
		out[i] = arr.Value(i)
	}
	return out, nil
}

// ExtractUint64Column mirrors ExtractInt64Column for u64 columns (collection
// ids), also honoring the broadcast-a-scalar convention.
func ExtractUint64Column(col arrow.Array, n int) ([]uint64, error) {
	arr, ok := col.(*array.Uint64)
	if !ok {
		return nil, errUnexpectedType("uint64", col)
	}
	if arr.Len() == 1 && n > 1 {
		out := make([]uint64, n)
		v := arr.Value(0)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
	out := make([]uint64, arr.Len())
	for i := range out {
		out[i] = arr.Value(i)
	}
	return out, nil
}

// ExtractUint32Column reads a whole u32 column (count_limits) into a plain
// slice, honoring the broadcast convention.
func ExtractUint32Column(col arrow.Array, n int) ([]uint32, error) {
	arr, ok := col.(*array.Uint32)
	if !ok {
		return nil, errUnexpectedType("uint32", col)
	}
	if arr.Len() == 1 && n > 1 {
		out := make([]uint32, n)
		v := arr.Value(0)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
	out := make([]uint32, arr.Len())
	for i := range out {
		out[i] = arr.Value(i)
	}
	return out, nil
}

// ExtractBinaryColumn reads a binary/utf8 column into a slice of byte
// slices, nil entries mark nulls (used for value columns on write, where a
// null denotes deletion).
func ExtractBinaryColumn(col arrow.Array) ([][]byte, error) {
	switch arr := col.(type) {
	case *array.Binary:
		out := make([][]byte, arr.Len())
		for i := range out {
			if arr.IsNull(i) {
				continue
			}
			v := arr.Value(i)
			cp := make([]byte, len(v))
			copy(cp, v)
			out[i] = cp
		}
		return out, nil
	case *array.String:
		out := make([][]byte, arr.Len())
		for i := range out {
			if arr.IsNull(i) {
				continue
			}
			out[i] = []byte(arr.Value(i))
		}
		return out, nil
	default:
		return nil, errUnexpectedType("binary/utf8", col)
	}
}

// PathSeparator reads the single-byte path separator carried in a column's
// field metadata, defaulting to '/' when absent.
func PathSeparator(field arrow.Field) byte {
	if !field.HasMetadata() {
		return '/'
	}
	idx := field.Metadata.FindKey(PathSeparatorMetadataKey)
	if idx < 0 {
		return '/'
	}
	v := field.Metadata.Values()[idx]
	if len(v) == 0 {
		return '/'
	}
	return v[0]
}

func errUnexpectedType(want string, got arrow.Array) error {
	return &UnexpectedColumnTypeError{Want: want, Got: got.DataType().Name()}
}

// UnexpectedColumnTypeError reports a column whose Arrow type did not match
// what a verb handler required.
type UnexpectedColumnTypeError struct {
	Want string
	Got  string
}

func (e *UnexpectedColumnTypeError) Error() string {
	return "wire: expected " + e.Want + " column, got " + e.Got
}
