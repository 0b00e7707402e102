package recorder

import (
	"io"
)

// Encoder turns the raw media of one stream into its container format.
// Output goes to the writer the encoder was created with.
type Encoder interface {
	io.Writer
	// End signals end of input and waits for the encoder to finish writing.
	End() error
}

type EncoderSpec struct {
	Kind MediaKind
	Key  StreamKey
}

// EncoderFactory starts an encoder writing to out. onError is called from
// the encoder's own goroutines when it fails after start.
type EncoderFactory func(spec EncoderSpec, out io.Writer, onError func(error)) (Encoder, error)
