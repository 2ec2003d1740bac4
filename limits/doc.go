// Package limits provides centralized payload size constants and validation
// functions for chamber.
//
// # Size Hierarchy
//
//   - MaxTextMessage (16 KiB): plaintext limit for a text message.
//   - MaxAttachment (160 KiB): plaintext limit for an image, audio or file attachment.
//   - MaxWirePayload (256 KiB): limit for an encoded data-channel frame, including
//     base64 expansion and JSON framing.
//
// Each validation function rejects empty input with ErrMessageEmpty and oversized
// input with a wrapped ErrMessageTooLarge carrying the actual and maximum sizes:
//
//	if err := limits.ValidateTextMessage([]byte(text)); err != nil {
//	    if errors.Is(err, limits.ErrMessageTooLarge) {
//	        // tell the user
//	    }
//	}
//
// Frames received from peers are untrusted and must be checked with
// ValidateWirePayload before they are decoded.
package limits
