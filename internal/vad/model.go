//go:build silero

package vad

import (
	_ "embed"
)

// sileroModelData contains the Silero VAD v5 ONNX model embedded at
// build time. The model file must exist at internal/vad/silero_vad.onnx
// before compiling with -tags silero; without it the build fails. If the
// file is present but empty, NewNativeEngine returns an error.
//
//go:embed silero_vad.onnx
var sileroModelData []byte
