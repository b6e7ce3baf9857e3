// Package wire defines the columnar type set, its format-string encoding,
// and the Arrow schema/array construction helpers the dispatcher uses to
// translate between engine results and wire batches.
package wire

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// ColumnType enumerates the exhaustive scalar/binary/string/list column type
// set this protocol supports.
type ColumnType int

const (
	Null ColumnType = iota
	Bool
	UUID
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Binary
	Utf8
)

// FormatString returns the bit-exact format string for a leaf column type,
// matching ustore_doc_field_type_to_arrow_format in the reference engine.
func (t ColumnType) FormatString() string {
	switch t {
	case Null:
		return "n"
	case Bool:
		return "b"
	case UUID:
		return "w:16"
	case Int8:
		return "c"
	case Int16:
		return "s"
	case Int32:
		return "i"
	case Int64:
		return "l"
	case Uint8:
		return "C"
	case Uint16:
		return "S"
	case Uint32:
		return "I"
	case Uint64:
		return "L"
	case Float16:
		return "e"
	case Float32:
		return "f"
	case Float64:
		return "g"
	case Binary:
		return "z"
	case Utf8:
		return "u"
	default:
		return ""
	}
}

// StructFormat and ListFormat are the format strings for the two container
// shapes this protocol uses: the implicit root struct-of-columns, and
// list-of-T wrapper columns.
const (
	StructFormat = "+s"
	ListFormat   = "+l"
)

// ArrowType returns the concrete arrow.DataType a leaf ColumnType maps to.
func (t ColumnType) ArrowType() (arrow.DataType, error) {
	switch t {
	case Null:
		return arrow.Null, nil
	case Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case UUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}, nil
	case Int8:
		return arrow.PrimitiveTypes.Int8, nil
	case Int16:
		return arrow.PrimitiveTypes.Int16, nil
	case Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case Uint8:
		return arrow.PrimitiveTypes.Uint8, nil
	case Uint16:
		return arrow.PrimitiveTypes.Uint16, nil
	case Uint32:
		return arrow.PrimitiveTypes.Uint32, nil
	case Uint64:
		return arrow.PrimitiveTypes.Uint64, nil
	case Float16:
		return arrow.FixedWidthTypes.Float16, nil
	case Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case Binary:
		return arrow.BinaryTypes.Binary, nil
	case Utf8:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("wire: unknown column type %d", t)
	}
}

// BufferCount returns the number of buffers a leaf array of this type
// occupies: 0 for null, 2 for fixed-width scalars and uuid, 3 for
// binary/utf8. list types are handled separately by the caller (2 buffers
// at the list level plus one child array).
func (t ColumnType) BufferCount() int {
	switch t {
	case Null:
		return 0
	case Binary, Utf8:
		return 3
	default:
		return 2
	}
}

// PathSeparatorMetadataKey is the arrow.Field.Metadata key carrying the
// single-byte path separator for read_path/write_path/match_path columns.
const PathSeparatorMetadataKey = "ustore.path_separator"

// PresenceBitmapLen returns the number of bytes in a packed presence bitmap
// covering n rows: ceil(n/8).
func PresenceBitmapLen(n int) int {
	return (n + 7) / 8
}
