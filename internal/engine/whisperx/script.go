package whisperx

import _ "embed"

// workerScript is the Python worker run under uvx. It hosts loaded models in a
// handle table and speaks the line protocol in protocol.go.
//
//go:embed worker.py
var workerScript string
