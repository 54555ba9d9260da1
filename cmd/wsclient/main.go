// Command wsclient streams a WAV file to the host websocket endpoint at
// realtime pace, printing every translation message the server sends
// back. It exists for manual testing against a running server, the
// websocket analogue of the old gRPC audio streaming demo client.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

const wavHeaderSize = 44

// 8kHz 16-bit mono = 16000 bytes/second; 100ms chunks = 1600 bytes.
const chunkSize = 1600
const baseChunkIntervalMs = 100

type inboundEnvelope struct {
	Type       string `json:"type"`
	SourceLang string `json:"source_lang,omitempty"`
	Tier       string `json:"tier,omitempty"`
	AudioData  []byte `json:"audio_data,omitempty"`
	ChunkIndex int64  `json:"chunk_index,omitempty"`
	StartMs    int64  `json:"start_ms,omitempty"`
	EndMs      int64  `json:"end_ms,omitempty"`
}

func main() {
	audioFile := flag.String("audio", "../testdata/sample-8khz.wav", "Path to WAV file (8kHz 16-bit mono)")
	serverAddr := flag.String("server", "localhost:8080", "websocket server host:port")
	sourceLang := flag.String("source-lang", "en-US", "source language, BCP-47")
	tier := flag.String("tier", "standard", "processing tier: premium or standard")
	slowdown := flag.Float64("slow", 1.0, "slowdown factor (1.0 = realtime, 2.0 = half speed, etc)")
	flag.Parse()

	chunkInterval := time.Duration(float64(baseChunkIntervalMs)**slowdown) * time.Millisecond

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("not a valid WAV file")
	}
	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	if audioFormat != 1 {
		log.Fatal("only PCM format supported")
	}
	if sampleRate != 8000 {
		log.Printf("warning: sample rate is %d Hz, expected 8000 Hz", sampleRate)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/stream/host"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected to %s", u.String())

	if err := conn.WriteJSON(inboundEnvelope{Type: "init", SourceLang: *sourceLang, Tier: *tier}); err != nil {
		log.Fatalf("failed to send init: %v", err)
	}

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var generic map[string]any
			if err := json.Unmarshal(data, &generic); err != nil {
				continue
			}
			log.Printf("recv: %s", data)
			_ = generic
		}
	}()

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int64
	startTime := time.Now()

	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		startMs := (chunkNum - 1) * baseChunkIntervalMs
		endMs := chunkNum * baseChunkIntervalMs

		msg := inboundEnvelope{
			Type:       "audio",
			AudioData:  append([]byte(nil), chunk[:n]...),
			ChunkIndex: chunkNum,
			StartMs:    startMs,
			EndMs:      endMs,
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Fatalf("failed to send audio frame: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}
		time.Sleep(chunkInterval)
	}

	elapsed := time.Since(startTime)
	log.Printf("finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, elapsed)

	log.Println("waiting for trailing transcription to settle...")
	time.Sleep(10 * time.Second)

	if err := conn.WriteJSON(inboundEnvelope{Type: "audio_end"}); err != nil {
		log.Printf("failed to send audio_end: %v", err)
	}
	log.Println("stream complete")
}
