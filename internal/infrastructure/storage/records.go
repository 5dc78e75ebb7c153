package storage

import (
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

const (
	SnapshotRecordName = "url_blacklist"
	SessionRecordName  = "session"

	snapshotSchema = "blacklist_snapshot"
	sessionSchema  = "session"
	schemaVersion  = 1
)

// RecordArchive persists the blacklist snapshot and the last session as
// schema-tagged protobuf Structs.
type RecordArchive struct {
	archiver *Archiver
}

func NewRecordArchive(archiver *Archiver) *RecordArchive {
	return &RecordArchive{archiver: archiver}
}

func (r *RecordArchive) SaveSnapshot(snapshot *domain.BlacklistSnapshot) error {
	patterns := snapshot.Patterns()
	values := make([]any, len(patterns))
	for i, p := range patterns {
		values[i] = p
	}

	msg, err := structpb.NewStruct(map[string]any{
		"schema":         snapshotSchema,
		"schema_version": schemaVersion,
		"version":        strconv.FormatInt(snapshot.Version(), 10),
		"patterns":       values,
	})
	if err != nil {
		return &domain.SerializationError{Err: err}
	}

	return r.archiver.ArchiveObject(SnapshotRecordName, msg)
}

func (r *RecordArchive) LoadSnapshot() (*domain.BlacklistSnapshot, error) {
	msg := &structpb.Struct{}
	if err := r.archiver.UnarchiveInto(SnapshotRecordName, msg); err != nil {
		return nil, err
	}

	fields := msg.GetFields()
	if err := checkSchema(fields, snapshotSchema); err != nil {
		return nil, &domain.DeserializationError{Source: SnapshotRecordName, Err: err}
	}

	version, err := versionField(fields, "version")
	if err != nil {
		return nil, &domain.DeserializationError{Source: SnapshotRecordName, Err: err}
	}

	list := fields["patterns"].GetListValue()
	if list == nil {
		return nil, &domain.DeserializationError{Source: SnapshotRecordName, Err: fmt.Errorf("patterns missing")}
	}

	patterns := make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, &domain.DeserializationError{Source: SnapshotRecordName, Err: fmt.Errorf("pattern %d is not a string", i)}
		}
		patterns = append(patterns, s.StringValue)
	}

	return domain.NewBlacklistSnapshot(version, patterns), nil
}

func (r *RecordArchive) SaveSession(session *domain.Session) error {
	fields := map[string]any{
		"schema":                sessionSchema,
		"schema_version":        schemaVersion,
		"session_id":            session.SessionID,
		"identity_id":           session.IdentityID,
		"device_fingerprint_id": session.DeviceFingerprintID,
		"link":                  session.Link,
	}
	if session.Data != nil {
		fields["data"] = session.Data
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return &domain.SerializationError{Err: err}
	}

	return r.archiver.ArchiveObject(SessionRecordName, msg)
}

func (r *RecordArchive) LoadSession() (*domain.Session, error) {
	msg := &structpb.Struct{}
	if err := r.archiver.UnarchiveInto(SessionRecordName, msg); err != nil {
		return nil, err
	}

	fields := msg.GetFields()
	if err := checkSchema(fields, sessionSchema); err != nil {
		return nil, &domain.DeserializationError{Source: SessionRecordName, Err: err}
	}

	session := &domain.Session{
		SessionID:           fields["session_id"].GetStringValue(),
		IdentityID:          fields["identity_id"].GetStringValue(),
		DeviceFingerprintID: fields["device_fingerprint_id"].GetStringValue(),
		Link:                fields["link"].GetStringValue(),
	}
	if data := fields["data"].GetStructValue(); data != nil {
		session.Data = data.AsMap()
	}

	return session, nil
}

func checkSchema(fields map[string]*structpb.Value, want string) error {
	if got := fields["schema"].GetStringValue(); got != want {
		return fmt.Errorf("%w: schema %q, want %q", domain.ErrForeignArchiveType, got, want)
	}

	version, err := integerField(fields, "schema_version")
	if err != nil {
		return err
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: schema version %d", domain.ErrUnsupportedArchiveVersion, version)
	}

	return nil
}

// versionField reads an int64 stored as decimal text. Struct numbers are
// doubles and cannot hold every int64.
func versionField(fields map[string]*structpb.Value, key string) (int64, error) {
	v, ok := fields[key].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return 0, fmt.Errorf("%s missing or not a string", key)
	}

	n, err := strconv.ParseInt(v.StringValue, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s is not a non-negative integer: %q", key, v.StringValue)
	}

	return n, nil
}

func integerField(fields map[string]*structpb.Value, key string) (int64, error) {
	v, ok := fields[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s missing or not a number", key)
	}

	n := v.NumberValue
	if n != math.Trunc(n) || n < 0 || n > 1<<53 {
		return 0, fmt.Errorf("%s is not a non-negative integer: %v", key, n)
	}

	return int64(n), nil
}
