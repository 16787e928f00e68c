package mysql

import (
	"fmt"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

// FieldType is MySQL's column type code. The type space is two contiguous
// ranges: 0..20 and 242..255.
type FieldType uint16

const (
	FieldTypeDecimal FieldType = iota
	FieldTypeTiny
	FieldTypeShort
	FieldTypeLong
	FieldTypeFloat
	FieldTypeDouble
	FieldTypeNull
	FieldTypeTimestamp
	FieldTypeLongLong
	FieldTypeInt24
	FieldTypeDate
	FieldTypeTime
	FieldTypeDatetime
	FieldTypeYear
	FieldTypeNewDate
	FieldTypeVarchar
	FieldTypeBit
	FieldTypeTimestamp2
	FieldTypeDatetime2
	FieldTypeTime2
	FieldTypeTypedArray
)

const (
	FieldTypeVector FieldType = 242 + iota
	FieldTypeInvalid
	FieldTypeBool
	FieldTypeJSON
	FieldTypeNewDecimal
	FieldTypeEnum
	FieldTypeSet
	FieldTypeTinyBlob
	FieldTypeMediumBlob
	FieldTypeLongBlob
	FieldTypeBlob
	FieldTypeVarString
	FieldTypeString
	FieldTypeGeometry
)

// ParseFieldType validates that v falls within one of MySQL's two field-type
// ranges and returns it as a FieldType.
func ParseFieldType(v uint16) (FieldType, error) {
	if v <= 20 || (v >= 242 && v <= 255) {
		return FieldType(v), nil
	}
	return 0, fmt.Errorf("mysql: invalid field type value %d", v)
}

// ColumnDefinition is a fully-decoded ColumnDefinition41 packet.
type ColumnDefinition struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	FixedLength  uint64
	CharacterSet uint16
	ColumnLength uint32
	FieldType    FieldType
	Flags        uint16
	Decimals     uint8
	Reserved     uint16
}

// DecodeColumnDefinition41 parses a ColumnDefinition41 packet body field by
// field, in wire order.
func DecodeColumnDefinition41(body []byte) (ColumnDefinition, error) {
	var cd ColumnDefinition
	off := 0

	catalog, n, err := wire.StringLenEnc(body[off:])
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition catalog: %w", err)
	}
	off += n
	cd.Catalog = catalog

	schema, n, err := wire.StringLenEnc(body[off:])
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition schema: %w", err)
	}
	off += n
	cd.Schema = schema

	table, n, err := wire.StringLenEnc(body[off:])
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition table: %w", err)
	}
	off += n
	cd.Table = table

	orgTable, n, err := wire.StringLenEnc(body[off:])
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition org_table: %w", err)
	}
	off += n
	cd.OrgTable = orgTable

	name, n, err := wire.StringLenEnc(body[off:])
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition name: %w", err)
	}
	off += n
	cd.Name = name

	orgName, n, err := wire.StringLenEnc(body[off:])
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition org_name: %w", err)
	}
	off += n
	cd.OrgName = orgName

	fixedLen, n, err := wire.IntLenEnc(body[off:])
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition fixed_length_fields: %w", err)
	}
	off += n
	cd.FixedLength = fixedLen

	charset, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition character_set: %w", err)
	}
	off += n
	cd.CharacterSet = uint16(charset)

	colLen, n, err := wire.IntFixedLen(body[off:], 4)
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition column_length: %w", err)
	}
	off += n
	cd.ColumnLength = uint32(colLen)

	ft, n, err := wire.IntFixedLen(body[off:], 1)
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition field_type: %w", err)
	}
	off += n
	fieldType, err := ParseFieldType(uint16(ft))
	if err != nil {
		return cd, err
	}
	cd.FieldType = fieldType

	flags, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition flags: %w", err)
	}
	off += n
	cd.Flags = uint16(flags)

	decimals, n, err := wire.IntFixedLen(body[off:], 1)
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition decimals: %w", err)
	}
	off += n
	cd.Decimals = uint8(decimals)

	reserved, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return cd, fmt.Errorf("mysql: column definition reserved: %w", err)
	}
	off += n
	cd.Reserved = uint16(reserved)

	return cd, nil
}
