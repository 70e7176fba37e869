// Package payload shapes outbound payloads to keep frames under the
// wire size ceiling: sizing, zlib compression, and shallow incremental
// diffing against a prior snapshot.
package payload

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/klauspost/compress/zlib"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
)

// ErrPayloadTooLarge reports a payload whose compressed size still
// exceeds the hard ceiling. This signals an upstream defect in the
// producing caller; it is never hidden by truncation.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum compressed size")

// Optimizer sizes, compresses, and diffs payloads according to the
// configured limits. Stateless and safe for concurrent use.
type Optimizer struct {
	cfg config.PayloadConfig
}

// NewOptimizer creates an Optimizer with the given limits.
//
// Precondition: cfg must pass config validation.
func NewOptimizer(cfg config.PayloadConfig) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// SizeOf returns the serialized size of the payload in bytes.
//
// Postcondition: Returns the JSON-encoded length, or an error if the
// payload is not JSON-encodable.
func (o *Optimizer) SizeOf(payload map[string]any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("sizing payload: %w", err)
	}
	return len(data), nil
}

// Optimize returns the payload ready for a transport write.
//
// A payload under the compression threshold passes through unchanged
// unless forceCompression is set. At or above the threshold it is
// compressed, and the compression is kept only if it achieves the
// configured minimum gain. A payload over the maximum uncompressed
// size is compressed unconditionally; if the compressed form still
// exceeds the maximum compressed size, ErrPayloadTooLarge is returned.
//
// Postcondition: Returns either the original payload or a compressed
// wire payload of the form
// {compressed, data, original_size, compressed_size, compression_ratio}.
func (o *Optimizer) Optimize(payload map[string]any, forceCompression bool) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	originalSize := len(raw)
	mandatory := originalSize > o.cfg.MaxPayloadSize

	if !mandatory && !forceCompression && originalSize < o.cfg.CompressionThreshold {
		return payload, nil
	}

	compressed, err := deflate(raw)
	if err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	compressedSize := len(compressed)

	if mandatory && compressedSize > o.cfg.MaxCompressedSize {
		return nil, fmt.Errorf("%w: %d bytes compressed from %d, limit %d",
			ErrPayloadTooLarge, compressedSize, originalSize, o.cfg.MaxCompressedSize)
	}

	// Otherwise compression is an optimization, kept only when it pays
	// for itself.
	gain := 1 - float64(compressedSize)/float64(originalSize)
	if !mandatory && !forceCompression && gain < o.cfg.MinCompressionGain {
		return payload, nil
	}

	ratio := float64(compressedSize) / float64(originalSize)
	return map[string]any{
		"compressed":        true,
		"data":              hex.EncodeToString(compressed),
		"original_size":     originalSize,
		"compressed_size":   compressedSize,
		"compression_ratio": math.Round(ratio*1000) / 1000,
	}, nil
}

// Decompress reverses a compressed wire payload and returns the
// original payload.
//
// Precondition: wire must be a payload produced by Optimize with
// compressed == true.
func (o *Optimizer) Decompress(wire map[string]any) (map[string]any, error) {
	encoded, ok := wire["data"].(string)
	if !ok {
		return nil, errors.New("compressed payload missing data field")
	}
	compressed, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding compressed payload: %w", err)
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("opening compressed payload: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding decompressed payload: %w", err)
	}
	return payload, nil
}

// Incremental computes a shallow key-level diff of current against
// previous. A nil previous returns current unchanged (full payload).
// Keys removed since previous appear in changes with a nil value.
//
// Postcondition: With no changes, returns
// {incremental: true, changes: {}} so the caller can skip the wire
// write entirely.
func (o *Optimizer) Incremental(current, previous map[string]any) map[string]any {
	if previous == nil {
		return current
	}

	changes := make(map[string]any)
	for key, val := range current {
		prev, ok := previous[key]
		if !ok || !reflect.DeepEqual(prev, val) {
			changes[key] = val
		}
	}
	for key := range previous {
		if _, ok := current[key]; !ok {
			changes[key] = nil
		}
	}

	return map[string]any{
		"incremental": true,
		"changes":     changes,
	}
}

func deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
