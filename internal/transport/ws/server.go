// Package ws is the host/listener websocket transport: it terminates
// the two connection roles — one host per session sending audio and
// receiving previews, zero or more listeners receiving translations for
// one target language each — and wires each new host connection to a
// fresh pipeline.Session.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"ai-speech-translate-core/internal/config"
	"ai-speech-translate-core/internal/models"
	"ai-speech-translate-core/internal/registry"
	"ai-speech-translate-core/internal/service/audio"
	"ai-speech-translate-core/internal/service/pipeline"
	"ai-speech-translate-core/internal/service/segment"
	"ai-speech-translate-core/internal/service/stt"
)

// AdapterFactory constructs a fresh STT adapter and its matching
// recovery transcriber for one new host session.
type AdapterFactory func(ctx context.Context) (stt.Adapter, pipeline.RecoveryTranscriber, error)

// Server terminates host and listener websocket connections and wires
// each host to its own audio.Handler + pipeline.Session pair.
type Server struct {
	store       *registry.Store
	grammar     pipeline.GrammarWorker
	translation pipeline.TranslationWorker
	persister   pipeline.Persister
	sttFactory  AdapterFactory
	segments    *segment.Generator
	upgrader    websocket.Upgrader
	cfg         config.WebSocketConfig
}

// NewServer wires a websocket transport server.
func NewServer(store *registry.Store, grammar pipeline.GrammarWorker, translation pipeline.TranslationWorker, persister pipeline.Persister, sttFactory AdapterFactory, cfg config.WebSocketConfig) *Server {
	return &Server{
		store:       store,
		grammar:     grammar,
		translation: translation,
		persister:   persister,
		sttFactory:  sttFactory,
		segments:    segment.New(),
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// inboundEnvelope is the union of every inbound host message shape;
// type discriminates which fields are meaningful.
type inboundEnvelope struct {
	Type            string `json:"type"`
	SourceLang      string `json:"source_lang"`
	Tier            string `json:"tier"`
	AudioData       []byte `json:"audio_data"`
	ChunkIndex      int64  `json:"chunk_index"`
	StartMs         int64  `json:"start_ms"`
	EndMs           int64  `json:"end_ms"`
	ClientTimestamp *int64 `json:"client_timestamp,omitempty"`
}

// HandleHost upgrades a host connection, provisions a session and its
// pipeline, and drives inbound audio/control messages until disconnect.
func (s *Server) HandleHost(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("host websocket upgrade failed")
		return
	}
	defer conn.Close()

	var first inboundEnvelope
	if err := conn.ReadJSON(&first); err != nil {
		log.Warn().Err(err).Msg("host failed to send init frame")
		return
	}
	if first.Type != "init" {
		_ = conn.WriteJSON(models.Error{Type: models.TypeError, Message: "expected init as first message"})
		return
	}
	if first.SourceLang == "" {
		first.SourceLang = "en-US"
	}
	if !validLanguageTag(first.SourceLang) {
		_ = conn.WriteJSON(models.Error{Type: models.TypeError, Message: "invalid source_lang: " + first.SourceLang})
		return
	}

	sessionID := uuid.NewString()
	logger := log.With().Str("sessionId", sessionID).Logger()
	logger.Info().Str("sourceLang", first.SourceLang).Str("tier", first.Tier).Msg("host session starting")

	sess := s.store.CreateSession(sessionID, first.SourceLang, first.Tier)
	s.store.SetHost(sessionID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	adapter, recoveryTranscriber, err := s.sttFactory(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create STT adapter")
		_ = conn.WriteJSON(models.Error{Type: models.TypeError, Message: "failed to start recognition"})
		s.store.RemoveSession(sessionID)
		return
	}

	pipe := pipeline.NewSession(sessionID, sess.SourceLang, s.grammar, s.translation, s.store, s.persister, recoveryTranscriber)
	handler := audio.NewHandler(adapter, s.segments, sessionID, pipe)

	if err := handler.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start STT session")
		_ = conn.WriteJSON(models.Error{Type: models.TypeError, Message: "failed to start recognition"})
		s.store.RemoveSession(sessionID)
		return
	}

	_ = conn.WriteJSON(models.SessionReady{Type: models.TypeSessionReady, SessionID: sessionID})

	defer func() {
		pipe.Close()
		_ = handler.Close()
		s.store.RemoveSession(sessionID)
		logger.Info().Msg("host session closed")
	}()

	for {
		var msg inboundEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "init":
			if msg.SourceLang == "" {
				continue
			}
			if !validLanguageTag(msg.SourceLang) {
				_ = conn.WriteJSON(models.Warning{Type: models.TypeWarning, Message: "invalid source_lang ignored", Code: "bad_language_tag"})
				continue
			}
			s.store.UpdateSourceLanguage(sessionID, msg.SourceLang)
		case "audio":
			if len(msg.AudioData) == 0 {
				continue
			}
			pipe.ObserveAudio(msg.AudioData)
			if err := handler.SendAudio(ctx, msg.AudioData); err != nil {
				logger.Warn().Err(err).Msg("send audio failed")
				_ = conn.WriteJSON(models.Warning{Type: models.TypeWarning, Message: "audio send failed", Code: "audio_error"})
			}
		case "audio_end":
			return
		case "force_commit":
			pipe.ForceCommit()
		default:
			logger.Warn().Str("type", msg.Type).Msg("unknown inbound message type")
		}
	}
}

// HandleListener upgrades a listener connection and registers it for a
// session/target-language pair, filtered via the session and lang query
// parameters. A listener never sends meaningful payloads back; the read
// loop exists purely to detect disconnect.
func (s *Server) HandleListener(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	targetLang := r.URL.Query().Get("lang")
	if sessionID == "" || targetLang == "" {
		http.Error(w, "session and lang query parameters are required", http.StatusBadRequest)
		return
	}
	if !validLanguageTag(targetLang) {
		http.Error(w, "lang is not a valid BCP-47 language tag", http.StatusBadRequest)
		return
	}
	if _, ok := s.store.GetSession(sessionID); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("listener websocket upgrade failed")
		return
	}
	defer conn.Close()

	listenerID := uuid.NewString()
	s.store.AddListener(sessionID, listenerID, targetLang, conn)
	defer s.store.RemoveListener(sessionID, listenerID)

	log.Info().Str("sessionId", sessionID).Str("listenerId", listenerID).Str("targetLang", targetLang).
		Msg("listener joined")

	conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval * 2))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval * 2))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Info().Str("sessionId", sessionID).Str("listenerId", listenerID).Msg("listener disconnected")
			return
		}
	}
}

// validLanguageTag reports whether tag parses as a BCP-47 language tag.
func validLanguageTag(tag string) bool {
	_, err := language.Parse(tag)
	return err == nil
}
