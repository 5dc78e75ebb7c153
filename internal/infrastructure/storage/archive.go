package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

// Archive layout: magic, big-endian format version, then a protobuf Any whose
// type URL names the archived message.
const (
	archiveFormatVersion uint16 = 1
	archiveHeaderSize           = 6
)

var archiveMagic = []byte("ARCV")

// Archiver stores protobuf messages in a PersistentStore.
type Archiver struct {
	store PersistentStore
}

func NewArchiver(store PersistentStore) *Archiver {
	return &Archiver{store: store}
}

func (a *Archiver) ArchiveObject(name string, msg proto.Message) error {
	data, err := encodeArchive(msg)
	if err != nil {
		return err
	}

	return a.store.Save(name, data)
}

// UnarchiveObject decodes whatever message type the archive names. The type
// must be linked into the binary.
func (a *Archiver) UnarchiveObject(name string) (proto.Message, error) {
	wrapped, err := a.loadAny(name)
	if err != nil {
		return nil, err
	}

	msg, err := wrapped.UnmarshalNew()
	if err != nil {
		return nil, &domain.DeserializationError{Source: name, Err: err}
	}

	return msg, nil
}

// UnarchiveInto decodes into dst and rejects archives of any other type.
func (a *Archiver) UnarchiveInto(name string, dst proto.Message) error {
	wrapped, err := a.loadAny(name)
	if err != nil {
		return err
	}

	if !wrapped.MessageIs(dst) {
		return &domain.DeserializationError{
			Source: name,
			Err:    fmt.Errorf("%w: %s", domain.ErrForeignArchiveType, wrapped.GetTypeUrl()),
		}
	}

	if err := wrapped.UnmarshalTo(dst); err != nil {
		return &domain.DeserializationError{Source: name, Err: err}
	}

	return nil
}

func (a *Archiver) loadAny(name string) (*anypb.Any, error) {
	data, err := a.store.Load(name)
	if err != nil {
		return nil, err
	}

	wrapped, err := decodeArchive(data)
	if err != nil {
		return nil, &domain.DeserializationError{Source: name, Err: err}
	}

	return wrapped, nil
}

func encodeArchive(msg proto.Message) ([]byte, error) {
	if msg == nil {
		return nil, &domain.SerializationError{Err: fmt.Errorf("nil message")}
	}

	wrapped, err := anypb.New(msg)
	if err != nil {
		return nil, &domain.SerializationError{Err: err}
	}

	body, err := proto.MarshalOptions{Deterministic: true}.Marshal(wrapped)
	if err != nil {
		return nil, &domain.SerializationError{Err: err}
	}

	var buf bytes.Buffer
	buf.Grow(archiveHeaderSize + len(body))
	buf.Write(archiveMagic)
	_ = binary.Write(&buf, binary.BigEndian, archiveFormatVersion)
	buf.Write(body)

	return buf.Bytes(), nil
}

func decodeArchive(data []byte) (*anypb.Any, error) {
	if len(data) < archiveHeaderSize {
		return nil, fmt.Errorf("archive too short: %d bytes", len(data))
	}

	if !bytes.Equal(data[:len(archiveMagic)], archiveMagic) {
		return nil, fmt.Errorf("archive magic mismatch")
	}

	version := binary.BigEndian.Uint16(data[len(archiveMagic):archiveHeaderSize])
	if version != archiveFormatVersion {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnsupportedArchiveVersion, version)
	}

	wrapped := &anypb.Any{}
	if err := proto.Unmarshal(data[archiveHeaderSize:], wrapped); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	if wrapped.GetTypeUrl() == "" {
		return nil, fmt.Errorf("archive envelope has no type")
	}

	return wrapped, nil
}
