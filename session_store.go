package veriflow

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionRecordVersionV1 = 1

var (
	errSessionNotFound         = errors.New("scoped session not found")
	errSessionRedisUnavailable = errors.New("scoped session redis unavailable")
)

// scopedSessionRecord is the revocable server-side artifact behind a proof
// token. SecretHash binds the record to exactly one issued token: a
// superseding issuance rotates the secret, which silently invalidates the
// older token even though its signature still verifies.
type scopedSessionRecord struct {
	Subject    string
	SecretHash [32]byte
	ExpiresAt  int64
	Payload    string
}

// scopedSessionStore keeps at most one live session per (purpose, subject).
type scopedSessionStore struct {
	redis  *redis.Client
	prefix string
}

func newScopedSessionStore(redisClient *redis.Client, prefix string) *scopedSessionStore {
	return &scopedSessionStore{redis: redisClient, prefix: prefix}
}

func (s *scopedSessionStore) key(purpose Purpose, subject string) string {
	return s.prefix + ":proof:" + string(purpose) + ":" + subject
}

func (s *scopedSessionStore) Save(
	ctx context.Context,
	purpose Purpose,
	subject string,
	record *scopedSessionRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeScopedSessionRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(purpose, subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}

	return nil
}

func (s *scopedSessionStore) Get(ctx context.Context, purpose Purpose, subject string) (*scopedSessionRecord, error) {
	data, err := s.redis.Get(ctx, s.key(purpose, subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}

	record, err := decodeScopedSessionRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, errSessionNotFound
	}

	return record, nil
}

func (s *scopedSessionStore) Delete(ctx context.Context, purpose Purpose, subject string) error {
	if err := s.redis.Del(ctx, s.key(purpose, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}
	return nil
}

func encodeScopedSessionRecord(record *scopedSessionRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Subject) > 65535 {
		return nil, errors.New("session record subject too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Subject))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Subject)

	if len(record.Payload) > 65535 {
		return nil, errors.New("session record payload too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Payload))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Payload)

	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeScopedSessionRecord(data []byte) (*scopedSessionRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionRecordVersionV1 {
		return nil, errors.New("invalid session record version")
	}

	record := &scopedSessionRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	subject, err := readLengthPrefixed(reader)
	if err != nil {
		return nil, err
	}
	record.Subject = subject

	payload, err := readLengthPrefixed(reader)
	if err != nil {
		return nil, err
	}
	record.Payload = payload

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
