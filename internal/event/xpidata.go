package event

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// XPIData carries a packaged extension archive. On the wire it is
// base64(zstd-level-19(raw)) on the wire; in memory it is the raw,
// uncompressed bytes.
type XPIData []byte

func (x XPIData) MarshalJSON() ([]byte, error) {
	compressed, err := compress(x)
	if err != nil {
		return nil, fmt.Errorf("compress xpi_data: %w", err)
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(compressed))
}

func (x *XPIData) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("xpi_data is not a base64 string: %w", err)
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode xpi_data base64: %w", err)
	}
	raw, err := decompress(compressed)
	if err != nil {
		return fmt.Errorf("decompress xpi_data: %w", err)
	}
	*x = raw
	return nil
}

func compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(compressed, nil)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out, nil
}
