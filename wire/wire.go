// Package wire implements the payload format exchanged over peer data channels.
//
// Every frame is a single JSON object:
//
//	{"type":"text","content":"<base64 ciphertext>","iv":"<base64>","timestamp":1700000000000}
//	{"type":"image","blob":"<base64 ciphertext>","iv":"<base64>","timestamp":1700000000000,"name":"cat.png"}
//
// Text payloads carry their ciphertext in Content, binary kinds in Blob.
// Frames are validated on decode; anything malformed is rejected with
// ErrMalformed and must be dropped by the receiver.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/chamber/limits"
)

// Kind identifies the content type of a payload.
type Kind string

const (
	// KindText is an encrypted UTF-8 text message
	KindText Kind = "text"
	// KindImage is an encrypted image attachment
	KindImage Kind = "image"
	// KindAudio is an encrypted audio attachment
	KindAudio Kind = "audio"
	// KindFile is an encrypted generic file attachment
	KindFile Kind = "file"
)

// ErrMalformed is returned for frames that are not a valid payload.
var ErrMalformed = errors.New("malformed payload")

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindFile:
		return true
	}
	return false
}

// Binary reports whether payloads of this kind carry a blob.
func (k Kind) Binary() bool {
	return k == KindImage || k == KindAudio || k == KindFile
}

// Payload is the unit exchanged over a data channel.
type Payload struct {
	Type      Kind   `json:"type"`
	Content   string `json:"content,omitempty"`
	Blob      []byte `json:"blob,omitempty"`
	IV        []byte `json:"iv"`
	Timestamp int64  `json:"timestamp"`
	Name      string `json:"name,omitempty"`
}

// NewText builds a text payload from base64 ciphertext and IV.
func NewText(ciphertextB64, ivB64 string, at time.Time) (*Payload, error) {
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("%w: iv is not base64: %v", ErrMalformed, err)
	}
	p := &Payload{
		Type:      KindText,
		Content:   ciphertextB64,
		IV:        iv,
		Timestamp: at.UnixMilli(),
	}
	return p, p.Validate()
}

// NewBinary builds an attachment payload.
func NewBinary(kind Kind, ciphertext, iv []byte, name string, at time.Time) (*Payload, error) {
	p := &Payload{
		Type:      kind,
		Blob:      ciphertext,
		IV:        iv,
		Timestamp: at.UnixMilli(),
		Name:      name,
	}
	return p, p.Validate()
}

// IVString returns the IV in base64, the form text decryption expects.
func (p *Payload) IVString() string {
	return base64.StdEncoding.EncodeToString(p.IV)
}

// SentAt returns the sender's declared timestamp.
func (p *Payload) SentAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Validate checks the structural rules of a payload.
func (p *Payload) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, p.Type)
	}
	if len(p.IV) != limits.IVSize {
		return fmt.Errorf("%w: iv is %d bytes, want %d", ErrMalformed, len(p.IV), limits.IVSize)
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}

	if p.Type.Binary() {
		if len(p.Blob) == 0 {
			return fmt.Errorf("%w: %s payload without blob", ErrMalformed, p.Type)
		}
		if p.Content != "" {
			return fmt.Errorf("%w: %s payload with text content", ErrMalformed, p.Type)
		}
		return nil
	}

	if p.Content == "" {
		return fmt.Errorf("%w: text payload without content", ErrMalformed)
	}
	if len(p.Blob) != 0 {
		return fmt.Errorf("%w: text payload with blob", ErrMalformed)
	}
	if _, err := base64.StdEncoding.DecodeString(p.Content); err != nil {
		return fmt.Errorf("%w: content is not base64: %v", ErrMalformed, err)
	}
	return nil
}

// Encode validates and serializes a payload for transmission.
func Encode(p *Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	frame, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := limits.ValidateWirePayload(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// Decode parses and validates a received frame.
func Decode(frame []byte) (*Payload, error) {
	if err := limits.ValidateWirePayload(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var p Payload
	if err := json.Unmarshal(frame, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
