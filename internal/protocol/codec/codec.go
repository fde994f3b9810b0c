// Package codec is the wire encoding used between coordinator, agents and
// workers: a fixed frame header followed by a TLV payload.
package codec

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/danmuck/simctl/internal/workload"
)

var (
	ErrUnknownOperation = errors.New("codec: unknown operation type")
	ErrNotResponse      = errors.New("codec: frame is not a response")
	ErrNotOperation     = errors.New("codec: frame is not an operation")
)

// Field ids of the operation and response payloads.
const (
	fieldSource      uint16 = 1
	fieldDestination uint16 = 2

	fieldTestID    uint16 = 10
	fieldPhase     uint16 = 11
	fieldPassive   uint16 = 12
	fieldMessage   uint16 = 13
	fieldLevel     uint16 = 14
	fieldData      uint16 = 15
	fieldTestIndex uint16 = 16
	fieldProperty  uint16 = 17

	fieldEntry uint16 = 20

	fieldKey   uint16 = 1
	fieldValue uint16 = 2
)

// Envelope is one addressed operation.
type Envelope struct {
	MessageID   uint64
	Source      address.Address
	Destination address.Address
	Op          operation.Operation
}

// WriteOperation frames env onto w.
func WriteOperation(w io.Writer, env Envelope) error {
	if env.Op == nil || !env.Op.Type().Valid() {
		return ErrUnknownOperation
	}
	fields := []field{
		stringField(fieldSource, env.Source.String()),
		stringField(fieldDestination, env.Destination.String()),
	}
	body, err := operationFields(env.Op)
	if err != nil {
		return err
	}
	fields = append(fields, body...)
	return WriteFrame(w, Frame{
		Header:  Header{MessageID: env.MessageID, Kind: uint32(env.Op.Type())},
		Payload: encodeFields(fields),
	}, DefaultLimits())
}

// ReadOperation reads one operation frame from r.
func ReadOperation(r io.Reader) (Envelope, error) {
	f, err := ReadFrame(r, DefaultLimits())
	if err != nil {
		return Envelope{}, err
	}
	if f.Header.Flags&FlagIsResponse != 0 {
		return Envelope{}, ErrNotOperation
	}
	fields, err := decodeFields(f.Payload)
	if err != nil {
		return Envelope{}, err
	}
	set := newFieldSet(fields)
	src, err := addressField(set, fieldSource)
	if err != nil {
		return Envelope{}, err
	}
	dst, err := addressField(set, fieldDestination)
	if err != nil {
		return Envelope{}, err
	}
	op, err := decodeOperation(operation.Type(f.Header.Kind), set)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{MessageID: f.Header.MessageID, Source: src, Destination: dst, Op: op}, nil
}

// WriteResponse frames resp onto w.
func WriteResponse(w io.Writer, resp *response.Response) error {
	fields := []field{stringField(fieldDestination, resp.Destination().String())}
	for _, e := range resp.Entries() {
		fields = append(fields, nestedField(fieldEntry,
			stringField(fieldKey, e.Address.String()),
			stringField(fieldValue, string(e.Type)),
		))
	}
	return WriteFrame(w, Frame{
		Header:  Header{MessageID: resp.MessageID(), Flags: FlagIsResponse},
		Payload: encodeFields(fields),
	}, DefaultLimits())
}

// ReadResponse reads one response frame from r.
func ReadResponse(r io.Reader) (*response.Response, error) {
	f, err := ReadFrame(r, DefaultLimits())
	if err != nil {
		return nil, err
	}
	if f.Header.Flags&FlagIsResponse == 0 {
		return nil, ErrNotResponse
	}
	fields, err := decodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	set := newFieldSet(fields)
	dst, err := addressField(set, fieldDestination)
	if err != nil {
		return nil, err
	}
	entries, err := set.nested(fieldEntry)
	if err != nil {
		return nil, err
	}
	resp := response.New(f.Header.MessageID, dst)
	for _, e := range entries {
		addr, err := addressField(e, fieldKey)
		if err != nil {
			return nil, err
		}
		raw, err := e.str(fieldValue)
		if err != nil {
			return nil, err
		}
		t, err := response.ParseType(raw)
		if err != nil {
			return nil, err
		}
		resp.Add(addr, t)
	}
	return resp, nil
}

func operationFields(op operation.Operation) ([]field, error) {
	switch o := op.(type) {
	case operation.IntegrationTest:
		return []field{stringField(fieldData, o.Data)}, nil
	case operation.Log:
		return []field{stringField(fieldMessage, o.Message), stringField(fieldLevel, o.Level)}, nil
	case operation.Ping:
		return nil, nil
	case operation.CreateTest:
		if o.TestIndex < 0 {
			return nil, fmt.Errorf("codec: negative test index %d", o.TestIndex)
		}
		fields := []field{
			stringField(fieldTestID, o.TestID),
			u32Field(fieldTestIndex, uint32(o.TestIndex)),
		}
		keys := make([]string, 0, len(o.Properties))
		for k := range o.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, nestedField(fieldProperty,
				stringField(fieldKey, k),
				stringField(fieldValue, o.Properties[k]),
			))
		}
		return fields, nil
	case operation.StartTestPhase:
		return []field{stringField(fieldTestID, o.TestID), stringField(fieldPhase, string(o.Phase))}, nil
	case operation.IsPhaseCompleted:
		return []field{stringField(fieldTestID, o.TestID), stringField(fieldPhase, string(o.Phase))}, nil
	case operation.StartTest:
		return []field{stringField(fieldTestID, o.TestID), boolField(fieldPassive, o.Passive)}, nil
	case operation.StopTest:
		return []field{stringField(fieldTestID, o.TestID)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}
}

func decodeOperation(kind operation.Type, set fieldSet) (operation.Operation, error) {
	switch kind {
	case operation.TypeIntegrationTest:
		data, err := set.optStr(fieldData)
		return operation.IntegrationTest{Data: data}, err
	case operation.TypeLog:
		msg, err := set.str(fieldMessage)
		if err != nil {
			return nil, err
		}
		level, err := set.optStr(fieldLevel)
		return operation.Log{Message: msg, Level: level}, err
	case operation.TypePing:
		return operation.Ping{}, nil
	case operation.TypeCreateTest:
		return decodeCreateTest(set)
	case operation.TypeStartTestPhase:
		id, phase, err := testPhaseFields(set)
		return operation.StartTestPhase{TestID: id, Phase: phase}, err
	case operation.TypeIsPhaseCompleted:
		id, phase, err := testPhaseFields(set)
		return operation.IsPhaseCompleted{TestID: id, Phase: phase}, err
	case operation.TypeStartTest:
		id, err := set.str(fieldTestID)
		if err != nil {
			return nil, err
		}
		passive, err := set.boolean(fieldPassive)
		return operation.StartTest{TestID: id, Passive: passive}, err
	case operation.TypeStopTest:
		id, err := set.str(fieldTestID)
		return operation.StopTest{TestID: id}, err
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, uint32(kind))
	}
}

func decodeCreateTest(set fieldSet) (operation.Operation, error) {
	id, err := set.str(fieldTestID)
	if err != nil {
		return nil, err
	}
	idx, err := set.u32(fieldTestIndex)
	if err != nil {
		return nil, err
	}
	props, err := set.nested(fieldProperty)
	if err != nil {
		return nil, err
	}
	out := operation.CreateTest{TestIndex: int(idx), TestID: id, Properties: make(map[string]string, len(props))}
	for _, p := range props {
		k, err := p.str(fieldKey)
		if err != nil {
			return nil, err
		}
		v, err := p.str(fieldValue)
		if err != nil {
			return nil, err
		}
		out.Properties[k] = v
	}
	return out, nil
}

// testPhaseFields decodes the phase as sent; the receiver validates it.
func testPhaseFields(set fieldSet) (string, workload.Phase, error) {
	id, err := set.str(fieldTestID)
	if err != nil {
		return "", "", err
	}
	phase, err := set.str(fieldPhase)
	if err != nil {
		return "", "", err
	}
	return id, workload.Phase(phase), nil
}

func addressField(set fieldSet, id uint16) (address.Address, error) {
	raw, err := set.str(id)
	if err != nil {
		return address.Address{}, err
	}
	return address.Parse(raw)
}
