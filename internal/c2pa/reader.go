package c2pa

import (
	"context"
	"errors"
)

// ErrNoManifest is returned by readers when the asset carries no C2PA data.
var ErrNoManifest = errors.New("c2pa: no manifest found")

// Reader is the extraction boundary. Implementations may block while an
// out-of-process verifier runs and must honour ctx cancellation.
type Reader interface {
	// ReadFragment extracts the manifest of a media segment, using the
	// initialization segment of the same representation.
	ReadFragment(ctx context.Context, init, media []byte) (*Manifest, error)
	// ReadFile extracts the manifest of a monolithic asset.
	ReadFile(ctx context.Context, data []byte) (*Manifest, error)
}

// ReaderFunc adapts a fragment function to Reader. ReadFile passes the data
// as the media argument with an empty init segment.
type ReaderFunc func(ctx context.Context, init, media []byte) (*Manifest, error)

func (f ReaderFunc) ReadFragment(ctx context.Context, init, media []byte) (*Manifest, error) {
	return f(ctx, init, media)
}

func (f ReaderFunc) ReadFile(ctx context.Context, data []byte) (*Manifest, error) {
	return f(ctx, nil, data)
}
