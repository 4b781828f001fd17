package novasonic

import "github.com/google/uuid"

// Ptr is a utility function that returns a pointer to the given value.
// This is useful for setting optional fields in structs that require pointers.
//
// Example usage:
//
//	opts := SessionOptions{
//	    Inference: Ptr(DefaultInferenceConfiguration),
//	}
func Ptr[T any](v T) *T { return &v }

// newPromptName generates the unique prompt identifier minted once per
// prompt handshake.
func newPromptName() string { return uuid.NewString() }

// newContentName generates a unique name for a content block.
func newContentName() string { return uuid.NewString() }
