package imagegen

import "context"

// ModelClient performs one generation attempt against the external model.
type ModelClient interface {
	GenerateImage(ctx context.Context, source []byte, mimeType, instruction string) ([]byte, string, error)
}

// Output is a generated image.
type Output struct {
	Data     []byte
	MIMEType string
}
