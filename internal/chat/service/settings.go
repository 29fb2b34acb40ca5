package service

import (
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/config"
)

// Profile names accepted by Settings.Profile.
const (
	ProfileBusiness = "business"
	ProfileGuided   = "guided"
	ProfilePersonal = "personal"
)

// Selection modes accepted by Settings.SelectionMode.
const (
	SelectionPattern = "pattern"
	SelectionLLM     = "llm"
)

// Settings is everything the router reads from configuration. It is built
// once at startup and passed in explicitly.
type Settings struct {
	Profile       string
	OperatorAddr  string // empty disables operator notifications
	SupportLine   string
	OrderPrefix   string
	SelectionMode string

	CatalogPageSize   int
	GuidedProductCode string

	HistoryWindow     int
	LongChatThreshold int

	OffTopicMenuDelay time.Duration
	LongChatMenuDelay time.Duration
	GuidedMenuDelay   time.Duration
	GuidedCloserDelay time.Duration
	GuidedIdleCloser  time.Duration
}

// SettingsFromConfig maps the process configuration onto Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Profile:           cfg.Profile,
		OperatorAddr:      cfg.OperatorAddress(),
		SupportLine:       cfg.SupportLine,
		OrderPrefix:       cfg.OrderPrefix,
		SelectionMode:     cfg.SelectionMode,
		CatalogPageSize:   cfg.CatalogPageSize,
		GuidedProductCode: cfg.GuidedProductCode,
		HistoryWindow:     cfg.HistoryWindow,
		LongChatThreshold: cfg.LongChatThreshold,
		OffTopicMenuDelay: cfg.OffTopicMenuDelay,
		LongChatMenuDelay: cfg.LongChatMenuDelay,
		GuidedMenuDelay:   cfg.GuidedMenuDelay,
		GuidedCloserDelay: cfg.GuidedCloserDelay,
		GuidedIdleCloser:  cfg.GuidedIdleCloser,
	}
}

// DefaultSettings returns the values used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Profile:           ProfileBusiness,
		OrderPrefix:       "PED",
		SelectionMode:     SelectionPattern,
		CatalogPageSize:   10,
		GuidedProductCode: "TOL001",
		HistoryWindow:     6,
		LongChatThreshold: 10,
		OffTopicMenuDelay: time.Second,
		LongChatMenuDelay: 2 * time.Second,
		GuidedMenuDelay:   5 * time.Second,
		GuidedCloserDelay: 5 * time.Second,
		GuidedIdleCloser:  90 * time.Second,
	}
}
