package authflow

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

const (
	codeKeyPrefix       = "afc"
	codeRecordVersionV1 = 1
)

var (
	errCodeNotFound         = errors.New("verification code not found")
	errCodeMismatch         = errors.New("verification code mismatch")
	errCodeAttempts         = errors.New("verification code attempts exceeded")
	errCodeRedisUnavailable = errors.New("verification code redis unavailable")
)

type verificationCodeRecord struct {
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
	Kind      OperationKind
}

// verificationCodeStore keeps the currently outstanding code per address and
// kind. A record is deleted on successful consume, on expiry, and when the
// attempt budget is exhausted.
type verificationCodeStore struct {
	redis  *redis.Client
	prefix string
}

func newVerificationCodeStore(redisClient *redis.Client) *verificationCodeStore {
	return &verificationCodeStore{
		redis:  redisClient,
		prefix: codeKeyPrefix,
	}
}

func (s *verificationCodeStore) key(email string, kind OperationKind) string {
	return s.prefix + ":" + kind.String() + ":" + email
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationCodeStore) Save(
	ctx context.Context,
	email string,
	record *verificationCodeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeVerificationCodeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(email, record.Kind), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	return nil
}

// Consume describes the consume operation and its observable behavior.
//
// Consume may return an error when input validation, dependency calls, or security checks fail.
// Consume does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationCodeStore) Consume(
	ctx context.Context,
	email string,
	kind OperationKind,
	providedHash [32]byte,
	maxAttempts int,
) error {
	const maxRetries = 4
	key := s.key(email, kind)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationCodeRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
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
					return errCodeAttempts
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

				updated, err := encodeVerificationCodeRecord(record)
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
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return errCodeNotFound
			case errors.Is(err, errCodeNotFound), errors.Is(err, errCodeMismatch), errors.Is(err, errCodeAttempts):
				return err
			default:
				return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
			}
		}

		return nil
	}

	return errCodeNotFound
}

func encodeVerificationCodeRecord(record *verificationCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)
	buf.WriteByte(byte(record.Kind))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeVerificationCodeRecord(data []byte) (*verificationCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid verification code record version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &verificationCodeRecord{
		Kind: OperationKind(kind),
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
