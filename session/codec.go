package session

import (
	"bytes"
	"encoding/gob"
	"time"
)

// Codec serializes a durable record so it can be handed to a Backend.
type Codec interface {
	// Decode decodes data into the record creation time and its entries.
	Decode(data []byte) (createdAt time.Time, entries map[string]string, err error)

	// Encode encodes the creation time and the entries.
	Encode(createdAt time.Time, entries map[string]string) (data []byte, err error)
}

var _ Codec = GobCodec{}

// GobCodec is the default Codec, based on encoding/gob.
type GobCodec struct{}

type gobRecord struct {
	CreatedAt time.Time
	Entries   map[string]string
}

func (GobCodec) Encode(createdAt time.Time, entries map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&gobRecord{CreatedAt: createdAt, Entries: entries}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(data []byte) (time.Time, map[string]string, error) {
	var r gobRecord
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	if r.Entries == nil {
		r.Entries = make(map[string]string)
	}
	return r.CreatedAt, r.Entries, err
}
