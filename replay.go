package pers

import (
	"encoding/binary"
	"fmt"

	"github.com/andreyvit/pers/journal"
)

// Journal mutation records: op byte, uvarint key length, key, then the raw
// encoded value for puts.
const (
	mutationPut    byte = 'P'
	mutationDelete byte = 'D'
)

func appendPutMutation(buf []byte, key string, value []byte) []byte {
	buf = appendUint8(buf, mutationPut)
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = appendString(buf, key)
	return appendRaw(buf, value)
}

func appendDeleteMutation(buf []byte, key string) []byte {
	buf = appendUint8(buf, mutationDelete)
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	return appendString(buf, key)
}

func decodeMutation(data []byte) (op byte, key, value []byte, err error) {
	if len(data) < 2 {
		return 0, nil, nil, dataErrf(data, 0, nil, "mutation too short")
	}
	op = data[0]
	n, vn := binary.Uvarint(data[1:])
	if vn <= 0 {
		return 0, nil, nil, dataErrf(data, 1, nil, "invalid mutation key length")
	}
	off := 1 + vn
	if n > uint64(len(data)-off) {
		return 0, nil, nil, dataErrf(data, off, nil, "not enough data: %d bytes remaining, %d wanted", len(data)-off, n)
	}
	key = data[off : off+int(n)]
	value = data[off+int(n):]
	switch op {
	case mutationPut:
	case mutationDelete:
		if len(value) != 0 {
			return 0, nil, nil, dataErrf(data, off+int(n), nil, "trailing data after delete mutation")
		}
	default:
		return 0, nil, nil, dataErrf(data, 0, nil, "unknown mutation op 0x%02x", op)
	}
	return op, key, value, nil
}

// Replay applies every mutation recorded in j directly to the engine, in
// order. It is meant for rebuilding a store (typically a fresh one) from a
// journal; objects that are already live are not refreshed.
//
// Replayed mutations are not journaled again.
func (s *Store) Replay(j *journal.Journal) error {
	if s.closed {
		return ErrClosed
	}
	var applied int
	err := j.Read(func(rec journal.Record) error {
		op, key, value, err := decodeMutation(rec.Data)
		if err != nil {
			return err
		}
		switch op {
		case mutationPut:
			err = s.engine.Put(key, value)
		case mutationDelete:
			_, err = s.engine.Delete(key)
		}
		if err != nil {
			return keyErr("replay", string(key), err)
		}
		applied++
		return nil
	})
	if err != nil {
		return fmt.Errorf("pers: replaying %v after %d mutations: %w", j, applied, err)
	}
	return nil
}
