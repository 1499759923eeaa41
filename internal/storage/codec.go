package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Кодек записей BadgerDB: JSON, сжатый zstd.
// Комната 18x18 в JSON занимает ~30 КБ и хорошо сжимается.
var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

func encodeValue(v interface{}) ([]byte, error) {
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("ошибка инициализации zstd: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

func decodeValue(data []byte, v interface{}) error {
	if err := initCodec(); err != nil {
		return fmt.Errorf("ошибка инициализации zstd: %w", err)
	}
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("ошибка распаковки: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("ошибка десериализации: %w", err)
	}
	return nil
}
