package models

// PersistedPartial is the analytics/persistence-sink shape of a live
// partial preview, published best-effort alongside the realtime
// broadcast (see internal/events).
type PersistedPartial struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	SegmentID  uint64 `json:"segmentId"`
	SourceLang string `json:"sourceLang"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// PersistedFinal is the analytics/persistence-sink shape of a committed,
// deduplicated, translated final. One is published per registered
// target language (including the source language anchor).
type PersistedFinal struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	SegmentID      uint64 `json:"segmentId"`
	SourceLang     string `json:"sourceLang"`
	TargetLang     string `json:"targetLang"`
	OriginalText   string `json:"originalText"`
	CorrectedText  string `json:"correctedText"`
	TranslatedText string `json:"translatedText"`
	HasTranslation bool   `json:"hasTranslation"`
	ForceFinal     bool   `json:"forceFinal"`
	Timestamp      int64  `json:"timestamp"`
}
