package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const fieldHeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("codec: short field header")
	ErrShortFieldValue  = errors.New("codec: short field value")
	ErrFieldType        = errors.New("codec: field type mismatch")
	ErrMissingField     = errors.New("codec: missing field")
)

const (
	typeU32    uint8 = 3
	typeBool   uint8 = 5
	typeString uint8 = 6
	typeNested uint8 = 8
)

// field is one TLV entry: id(2) type(1) len(4) value.
type field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func stringField(id uint16, v string) field {
	return field{ID: id, Type: typeString, Value: []byte(v)}
}

func u32Field(id uint16, v uint32) field {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return field{ID: id, Type: typeU32, Value: b}
}

func boolField(id uint16, v bool) field {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return field{ID: id, Type: typeBool, Value: b}
}

func nestedField(id uint16, inner ...field) field {
	return field{ID: id, Type: typeNested, Value: encodeFields(inner)}
}

func encodeFields(fields []field) []byte {
	size := 0
	for _, f := range fields {
		size += fieldHeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		var hdr [fieldHeaderLen]byte
		binary.BigEndian.PutUint16(hdr[0:2], f.ID)
		hdr[2] = f.Type
		binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
		out = append(out, hdr[:]...)
		out = append(out, f.Value...)
	}
	return out
}

func decodeFields(payload []byte) ([]field, error) {
	fields := make([]field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < fieldHeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += fieldHeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

// fieldSet indexes decoded fields; repeated ids keep every occurrence.
type fieldSet map[uint16][]field

func newFieldSet(fields []field) fieldSet {
	set := make(fieldSet, len(fields))
	for _, f := range fields {
		set[f.ID] = append(set[f.ID], f)
	}
	return set
}

func (s fieldSet) get(id uint16, typ uint8) (field, error) {
	fs, ok := s[id]
	if !ok || len(fs) == 0 {
		return field{}, fmt.Errorf("%w: %d", ErrMissingField, id)
	}
	if fs[0].Type != typ {
		return field{}, fmt.Errorf("%w: field %d got %d want %d", ErrFieldType, id, fs[0].Type, typ)
	}
	return fs[0], nil
}

func (s fieldSet) str(id uint16) (string, error) {
	f, err := s.get(id, typeString)
	if err != nil {
		return "", err
	}
	return string(f.Value), nil
}

// optStr returns "" when the field is absent.
func (s fieldSet) optStr(id uint16) (string, error) {
	if _, ok := s[id]; !ok {
		return "", nil
	}
	return s.str(id)
}

func (s fieldSet) u32(id uint16) (uint32, error) {
	f, err := s.get(id, typeU32)
	if err != nil {
		return 0, err
	}
	if len(f.Value) != 4 {
		return 0, fmt.Errorf("codec: invalid u32 length: %d", len(f.Value))
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func (s fieldSet) boolean(id uint16) (bool, error) {
	f, err := s.get(id, typeBool)
	if err != nil {
		return false, err
	}
	if len(f.Value) != 1 {
		return false, fmt.Errorf("codec: invalid bool length: %d", len(f.Value))
	}
	return f.Value[0] == 1, nil
}

// nested decodes every occurrence of a nested field id.
func (s fieldSet) nested(id uint16) ([]fieldSet, error) {
	out := make([]fieldSet, 0, len(s[id]))
	for _, f := range s[id] {
		if f.Type != typeNested {
			return nil, fmt.Errorf("%w: field %d got %d want %d", ErrFieldType, id, f.Type, typeNested)
		}
		inner, err := decodeFields(f.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, newFieldSet(inner))
	}
	return out, nil
}
