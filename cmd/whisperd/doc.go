// Command whisperd serves WhisperX transcription and forced alignment over
// HTTP and runs one-off predictions from the command line.
package main
