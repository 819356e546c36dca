package veriflow

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeRecordVersionV1 = 1

var (
	errCodeNotFound         = errors.New("code record not found")
	errCodeMismatch         = errors.New("code mismatch")
	errCodeAttemptsExceeded = errors.New("code attempts exceeded")
	errCodeRedisUnavailable = errors.New("code redis unavailable")
)

// oneTimeCodeRecord is the server-side half of an issued code. Payload
// carries workflow data that must survive until the code is consumed (the
// sealed candidate email for email-change and recovery flows).
type oneTimeCodeRecord struct {
	Subject   string
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
	Payload   string
}

// codeStore keeps at most one live code per (workflow, subject). Save
// overwrites unconditionally, which is what gives re-issuance its
// supersede-not-coexist semantics.
type codeStore struct {
	redis  *redis.Client
	prefix string
}

func newCodeStore(redisClient *redis.Client, prefix string) *codeStore {
	return &codeStore{redis: redisClient, prefix: prefix}
}

func (s *codeStore) key(workflow Workflow, subject string) string {
	return s.prefix + ":code:" + string(workflow) + ":" + subject
}

func (s *codeStore) Save(
	ctx context.Context,
	workflow Workflow,
	subject string,
	record *oneTimeCodeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeOneTimeCodeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(workflow, subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	return nil
}

// Consume atomically verifies and deletes the code for (workflow, subject).
// Exactly one concurrent caller can win; losers observe errCodeNotFound.
// A wrong code increments the attempt counter in place, and the record is
// burned once maxAttempts is reached.
func (s *codeStore) Consume(
	ctx context.Context,
	workflow Workflow,
	subject string,
	providedHash [32]byte,
	maxAttempts int,
) (*oneTimeCodeRecord, error) {
	const maxRetries = 4
	key := s.key(workflow, subject)

	for i := 0; i < maxRetries; i++ {
		var matched *oneTimeCodeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOneTimeCodeRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errCodeNotFound
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errCodeAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errCodeNotFound
				}

				updated, err := encodeOneTimeCodeRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errCodeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errCodeNotFound
			case errors.Is(err, errCodeNotFound), errors.Is(err, errCodeMismatch), errors.Is(err, errCodeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errCodeNotFound
}

// Exists reports whether a live code is pending for (workflow, subject). A
// record whose embedded expiry has lapsed but whose key has not yet been
// evicted counts as absent.
func (s *codeStore) Exists(ctx context.Context, workflow Workflow, subject string) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(workflow, subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	record, err := decodeOneTimeCodeRecord(data)
	if err != nil {
		return false, err
	}
	return time.Now().Unix() <= record.ExpiresAt, nil
}

func (s *codeStore) Delete(ctx context.Context, workflow Workflow, subject string) error {
	if err := s.redis.Del(ctx, s.key(workflow, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}

func encodeOneTimeCodeRecord(record *oneTimeCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Subject) > 65535 {
		return nil, errors.New("code record subject too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Subject))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Subject)

	if len(record.Payload) > 65535 {
		return nil, errors.New("code record payload too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Payload))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Payload)

	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeOneTimeCodeRecord(data []byte) (*oneTimeCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}

	record := &oneTimeCodeRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
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

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

func readLengthPrefixed(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
