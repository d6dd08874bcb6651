package profile

import (
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Alert types, in precedence order
const (
	AlertName    = "name"
	AlertRole    = "role"
	AlertKeyword = "keyword"
	AlertProject = "project"
	AlertGeneral = "general"
)

const (
	// ContextRadius is how many characters around a match are quoted
	ContextRadius = 50
	// AlertConfidence is reported for every match
	AlertConfidence = 0.9
)

// Alert is raised when a transcription mentions a profile term
type Alert struct {
	SpeakerID     int       `json:"speaker_id"`
	AlertType     string    `json:"alert_type"`
	TriggeredText string    `json:"triggered_text"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// Service matches transcriptions against the stored profile
type Service struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an alert service over store
func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Store returns the underlying profile store
func (s *Service) Store() *Store {
	return s.store
}

// CheckForAlerts returns one alert per distinct profile term found in text.
// A profile that cannot be read yields no alerts.
func (s *Service) CheckForAlerts(text string) []Alert {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	p, err := s.store.Get()
	if err != nil {
		s.logger.Warn("Profile unavailable for alert matching", slog.String("error", err.Error()))
		return nil
	}

	lower := strings.Map(unicode.ToLower, text)
	runes := []rune(text)
	now := s.now()

	var alerts []Alert
	for _, keyword := range Keywords(p) {
		idx := strings.Index(lower, keyword)
		if idx < 0 {
			continue
		}
		start := utf8.RuneCountInString(lower[:idx])
		end := start + utf8.RuneCountInString(keyword)

		from := max(0, start-ContextRadius)
		to := min(len(runes), end+ContextRadius)

		alerts = append(alerts, Alert{
			SpeakerID:     0,
			AlertType:     alertType(keyword, p),
			TriggeredText: string(runes[from:to]),
			Confidence:    AlertConfidence,
			Timestamp:     now,
		})
	}
	return alerts
}

// Keywords returns the lower-cased, de-duplicated terms of p in
// name, role, keywords, projects order. Blank entries are skipped.
func Keywords(p Profile) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(term string) {
		term = strings.Map(unicode.ToLower, strings.TrimSpace(term))
		if term == "" || seen[term] {
			return
		}
		seen[term] = true
		out = append(out, term)
	}

	add(p.Name)
	add(p.Role)
	for _, k := range p.Keywords {
		add(k)
	}
	for _, proj := range p.Projects {
		add(proj)
	}
	return out
}

func alertType(keyword string, p Profile) string {
	switch {
	case keyword == lowerTrim(p.Name):
		return AlertName
	case p.Role != "" && keyword == lowerTrim(p.Role):
		return AlertRole
	case containsFold(p.Keywords, keyword):
		return AlertKeyword
	case containsFold(p.Projects, keyword):
		return AlertProject
	default:
		return AlertGeneral
	}
}

func lowerTrim(s string) string {
	return strings.Map(unicode.ToLower, strings.TrimSpace(s))
}

func containsFold(terms []string, keyword string) bool {
	for _, t := range terms {
		if lowerTrim(t) == keyword {
			return true
		}
	}
	return false
}
