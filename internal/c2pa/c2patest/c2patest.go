// Package c2patest provides fixtures and a scriptable Reader for tests.
package c2patest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"c2pastreamd/internal/c2pa"
)

// Box builds an ISO BMFF box with a 32-bit size header.
func Box(name string, payload []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(8+len(payload)))
	buf.WriteString(name)
	buf.Write(payload)
	return buf.Bytes()
}

// C2PABox builds a C2PA uuid box with the given purpose and body.
func C2PABox(purpose string, body []byte) []byte {
	uuid, _ := hex.DecodeString(c2pa.C2PABoxUUID)
	var payload bytes.Buffer
	payload.Write(uuid)
	payload.Write([]byte{0, 0, 0, 0})
	payload.WriteString(purpose)
	payload.WriteByte(0)
	payload.Write(body)
	return Box("uuid", payload.Bytes())
}

// InitSegment returns a minimal init segment, optionally carrying a C2PA
// manifest box between ftyp and moov.
func InitSegment(withManifest bool) []byte {
	var buf bytes.Buffer
	buf.Write(Box("ftyp", []byte("iso6\x00\x00\x00\x00iso6dash")))
	if withManifest {
		buf.Write(C2PABox(c2pa.PurposeManifest, []byte("jumbf")))
	}
	buf.Write(Box("moov", make([]byte, 16)))
	return buf.Bytes()
}

// MediaSegment returns a minimal media segment whose payload embeds marker,
// so different segments have different bytes.
func MediaSegment(marker string) []byte {
	var buf bytes.Buffer
	buf.Write(Box("styp", []byte("msdh\x00\x00\x00\x00msdh")))
	buf.Write(C2PABox(c2pa.PurposeMerkle, nil))
	buf.Write(Box("moof", make([]byte, 8)))
	buf.Write(Box("mdat", []byte(marker)))
	return buf.Bytes()
}

// ValidManifest returns a manifest with an empty validation status list.
func ValidManifest() *c2pa.Manifest {
	return &c2pa.Manifest{ManifestStore: &c2pa.ManifestStore{
		ActiveManifest: &c2pa.ActiveManifest{
			Title:          "clip.mp4",
			ClaimGenerator: "c2pa-python/0.6.1 c2pa-rs/0.33",
			SignatureInfo:  &c2pa.SignatureInfo{Issuer: "Example CA"},
			Assertions: []c2pa.Assertion{{
				Label: c2pa.LabelCreativeWork,
				Data: map[string]any{
					"@type": "CreativeWork",
					"author": []any{map[string]any{
						"@type": "Person",
						"name":  "Jane Producer",
					}},
				},
			}},
		},
		ValidationStatus: []c2pa.ValidationStatus{},
	}}
}

// InvalidManifest returns a manifest carrying one validation problem.
func InvalidManifest(code string) *c2pa.Manifest {
	m := ValidManifest()
	m.ManifestStore.ValidationStatus = []c2pa.ValidationStatus{{
		Code:        code,
		Explanation: "hash mismatch",
	}}
	return m
}

// Reader is a scriptable c2pa.Reader. Responses are keyed by the media
// segment bytes; unknown media yields Default.
type Reader struct {
	mu        sync.Mutex
	responses map[string]response
	calls     int

	// Default is returned for media that has no scripted response.
	Default *c2pa.Manifest
	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate chan struct{}

	holds map[string]chan struct{}
}

type response struct {
	manifest *c2pa.Manifest
	err      error
}

// NewReader returns a Reader answering ValidManifest by default.
func NewReader() *Reader {
	return &Reader{responses: map[string]response{}, holds: map[string]chan struct{}{}, Default: ValidManifest()}
}

// Hold blocks reads of one media payload until release is called.
func (r *Reader) Hold(media []byte) (release func()) {
	ch := make(chan struct{})
	r.mu.Lock()
	r.holds[string(media)] = ch
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Set scripts the answer for one media payload.
func (r *Reader) Set(media []byte, m *c2pa.Manifest, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[string(media)] = response{manifest: m, err: err}
}

// Calls returns how many reads reached the reader.
func (r *Reader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *Reader) ReadFragment(ctx context.Context, init, media []byte) (*c2pa.Manifest, error) {
	r.mu.Lock()
	r.calls++
	resp, ok := r.responses[string(media)]
	def := r.Default
	gate := r.Gate
	hold := r.holds[string(media)]
	r.mu.Unlock()

	for _, ch := range []chan struct{}{gate, hold} {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return def, nil
	}
	return resp.manifest, resp.err
}

func (r *Reader) ReadFile(ctx context.Context, data []byte) (*c2pa.Manifest, error) {
	return r.ReadFragment(ctx, nil, data)
}
