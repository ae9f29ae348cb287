//go:build silero

package vad

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// resolveORTLibPath returns the path to the ONNX Runtime shared library.
// Search order:
//  1. STREAMRECOG_ORT_LIB_PATH environment variable (explicit override)
//  2. lib/<goos>-<goarch>/ relative to executable
//  3. ../lib/<goos>-<goarch>/ relative to executable (bin/ layout)
//
// CWD-based lookup is intentionally omitted to avoid shared library
// hijacking via a malicious working directory.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv("STREAMRECOG_ORT_LIB_PATH"); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("ort: STREAMRECOG_ORT_LIB_PATH=%q does not exist", envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: STREAMRECOG_ORT_LIB_PATH=%q is a directory, expected a file", envPath)
		}
		return envPath, nil
	}

	filename := ortLibFilename()
	libRel := filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, filename)
	libRelParent := filepath.Join("..", "lib", runtime.GOOS+"-"+runtime.GOARCH, filename)

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		if p := filepath.Join(exeDir, libRel); fileExists(p) {
			return p, nil
		}
		if p := filepath.Join(exeDir, libRelParent); fileExists(p) {
			return p, nil
		}
	}

	return "", fmt.Errorf("ort: could not locate %s; set STREAMRECOG_ORT_LIB_PATH", filename)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
