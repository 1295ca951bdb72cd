package engine

import "context"

// Engine loads models and runs inference. Implementations must be safe for
// concurrent use; they may serialize calls internally.
type Engine interface {
	// Version reports library versions from the engine runtime.
	Version(ctx context.Context) (VersionInfo, error)
	LoadModel(ctx context.Context, spec ModelSpec) (ModelHandle, error)
	LoadAlignModel(ctx context.Context, spec AlignSpec) (AlignHandle, error)
	// LoadAudio decodes the file at path into engine-held samples.
	LoadAudio(ctx context.Context, path string) (AudioHandle, error)
	Transcribe(ctx context.Context, model ModelHandle, audio AudioHandle, opts TranscribeOptions) (Transcript, error)
	Align(ctx context.Context, model AlignHandle, segments []Segment, audio AudioHandle, opts AlignOptions) (Alignment, error)
	// Release frees the engine-side object behind a handle ID. Unknown IDs are ignored.
	Release(ctx context.Context, id string) error
	Close() error
}
