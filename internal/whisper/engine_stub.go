//go:build !whisper_cpp

package whisper

import "errors"

// ErrNoCGO is returned when whisper.cpp is requested from a build without the
// whisper_cpp tag.
var ErrNoCGO = errors.New("whisper.cpp support not compiled in (build with -tags whisper_cpp)")

// NewCPPRecognizer is unavailable without cgo.
func NewCPPRecognizer(modelPath string, threads int, language string) (Recognizer, error) {
	return nil, ErrNoCGO
}
