// Package stt adapts live speech-recognition connections into a single
// ordered event sequence for the turn orchestrator.
//
// A Stream republishes upstream transcription messages as tagged
// RecognitionEvents: voice-activity start/stop markers and interim/final
// transcripts. Audio forwarding and event reading run concurrently and never
// block each other. When recognition credentials are absent the stream runs
// in a degraded mode where every read times out with no event, which the
// orchestrator treats as "recognition unavailable" rather than an error.
package stt
