// File: internal/config/services.go
package config

import (
	"fmt"
	"regexp"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// SelectorSet is the per-service table of CSS queries. Every field is an ordered
// list of alternatives, tried first to last.
type SelectorSet struct {
	Input             []string `mapstructure:"input" yaml:"input"`
	SendButton        []string `mapstructure:"send_button" yaml:"send_button"`
	ResponseContainer []string `mapstructure:"response_container" yaml:"response_container"`
	LatestResponse    []string `mapstructure:"latest_response" yaml:"latest_response"`
	LoadingIndicator  []string `mapstructure:"loading_indicator" yaml:"loading_indicator"`
	StopButton        []string `mapstructure:"stop_button" yaml:"stop_button"`
	NewChatButton     []string `mapstructure:"new_chat_button" yaml:"new_chat_button"`
	ErrorMessage      []string `mapstructure:"error_message" yaml:"error_message"`
	LoginButton       []string `mapstructure:"login_button" yaml:"login_button"`
	ConversationItem  []string `mapstructure:"conversation_item" yaml:"conversation_item"`
	UserMessage       []string `mapstructure:"user_message" yaml:"user_message"`
	Content           []string `mapstructure:"content" yaml:"content"`
}

// Containers returns ResponseContainer, or LatestResponse when no container query is configured.
func (s SelectorSet) Containers() []string {
	if len(s.ResponseContainer) > 0 {
		return s.ResponseContainer
	}
	return s.LatestResponse
}

// merge overlays every non-empty field of o onto s.
func (s SelectorSet) merge(o SelectorSet) SelectorSet {
	pick := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = append([]string(nil), v...)
		}
	}
	pick(&s.Input, o.Input)
	pick(&s.SendButton, o.SendButton)
	pick(&s.ResponseContainer, o.ResponseContainer)
	pick(&s.LatestResponse, o.LatestResponse)
	pick(&s.LoadingIndicator, o.LoadingIndicator)
	pick(&s.StopButton, o.StopButton)
	pick(&s.NewChatButton, o.NewChatButton)
	pick(&s.ErrorMessage, o.ErrorMessage)
	pick(&s.LoginButton, o.LoginButton)
	pick(&s.ConversationItem, o.ConversationItem)
	pick(&s.UserMessage, o.UserMessage)
	pick(&s.Content, o.Content)
	return s
}

// ServiceDescriptor describes one chat website. It is treated as immutable once built.
type ServiceDescriptor struct {
	ID        string        `mapstructure:"id" yaml:"id"`
	Name      string        `mapstructure:"name" yaml:"name"`
	URL       string        `mapstructure:"url" yaml:"url"`
	Disabled  bool          `mapstructure:"disabled" yaml:"disabled"`
	Selectors SelectorSet   `mapstructure:"selectors" yaml:"selectors"`
	Timings   AdapterConfig `mapstructure:"timings" yaml:"timings"`
	// LoginURLPatterns are regular expressions matched against the current page URL.
	LoginURLPatterns []string `mapstructure:"login_url_patterns" yaml:"login_url_patterns"`
	// ChromePhrases are UI lines stripped from extracted replies, on top of the common ones.
	ChromePhrases []string `mapstructure:"chrome_phrases" yaml:"chrome_phrases"`
}

// Validate checks that a descriptor can drive an adapter.
func (d ServiceDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(d.Selectors.Input) == 0 {
		return fmt.Errorf("selectors.input needs at least one query")
	}
	if len(d.Selectors.Containers()) == 0 {
		return fmt.Errorf("selectors.response_container or selectors.latest_response is required")
	}
	for _, p := range d.LoginURLPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("login_url_patterns: %w", err)
		}
	}
	return nil
}

// DefaultServices returns the built-in descriptors. The selector lists reflect the
// markup of each site at the time of writing and are expected to drift.
func DefaultServices() []ServiceDescriptor {
	return []ServiceDescriptor{
		{
			ID:   "chatgpt",
			Name: "ChatGPT",
			URL:  "https://chatgpt.com/",
			Selectors: SelectorSet{
				Input:             []string{"#prompt-textarea", "div[contenteditable='true'][id='prompt-textarea']", "textarea[data-id='root']"},
				SendButton:        []string{"[data-testid='send-button']", "button[aria-label='Send prompt']"},
				ResponseContainer: []string{"[data-message-author-role]", "article[data-testid^='conversation-turn']"},
				LatestResponse:    []string{"[data-message-author-role='assistant']:last-of-type"},
				LoadingIndicator:  []string{".result-streaming", ".result-thinking"},
				StopButton:        []string{"[data-testid='stop-button']", "button[aria-label='Stop streaming']"},
				NewChatButton:     []string{"[data-testid='create-new-chat-button']", "a[href='/']"},
				ErrorMessage:      []string{".text-token-text-error", "[data-testid='error-message']"},
				LoginButton:       []string{"[data-testid='login-button']"},
				ConversationItem:  []string{"nav a[href^='/c/']"},
				UserMessage:       []string{"[data-message-author-role='user']"},
				Content:           []string{".markdown.prose", ".markdown"},
			},
			LoginURLPatterns: []string{`auth\.openai\.com`, `/auth/login`},
			ChromePhrases:    []string{"ChatGPT said:", "Copy code"},
		},
		{
			ID:   "claude",
			Name: "Claude",
			URL:  "https://claude.ai/new",
			Selectors: SelectorSet{
				Input:             []string{"div.ProseMirror[contenteditable='true']", "[contenteditable='true']"},
				SendButton:        []string{"button[aria-label='Send message']", "button[aria-label='Send Message']"},
				ResponseContainer: []string{"[data-test-render-count]", ".font-claude-message"},
				LatestResponse:    []string{".font-claude-message"},
				LoadingIndicator:  []string{"[data-is-streaming='true']"},
				StopButton:        []string{"button[aria-label='Stop response']"},
				NewChatButton:     []string{"a[href='/new']"},
				ErrorMessage:      []string{"[data-testid='error-message']"},
				LoginButton:       []string{"a[href='/login']"},
				ConversationItem:  []string{"a[href^='/chat/']"},
				UserMessage:       []string{"[data-testid='user-message']", ".font-user-message"},
				Content:           []string{".font-claude-message", ".prose"},
			},
			LoginURLPatterns: []string{`/login`},
			ChromePhrases:    []string{"Copy", "Retry", "Claude can make mistakes. Please double-check responses."},
		},
		{
			ID:   "gemini",
			Name: "Gemini",
			URL:  "https://gemini.google.com/app",
			Selectors: SelectorSet{
				Input:             []string{"rich-textarea .ql-editor[contenteditable='true']", ".ql-editor"},
				SendButton:        []string{"button.send-button", "button[aria-label='Send message']"},
				ResponseContainer: []string{"user-query, model-response"},
				LatestResponse:    []string{"model-response:last-of-type"},
				LoadingIndicator:  []string{".loading-indicator", "mat-progress-bar"},
				StopButton:        []string{"button[aria-label='Stop response']"},
				NewChatButton:     []string{"[data-test-id='new-chat-button'] button", "a[aria-label='New chat']"},
				ErrorMessage:      []string{".error-message"},
				LoginButton:       []string{"a[href*='accounts.google.com/ServiceLogin']"},
				ConversationItem:  []string{".conversation-title"},
				UserMessage:       []string{"user-query"},
				Content:           []string{"message-content .markdown", ".model-response-text"},
			},
			LoginURLPatterns: []string{`accounts\.google\.com`},
			ChromePhrases:    []string{"Show drafts", "Gemini may display inaccurate info, including about people, so double-check its responses."},
		},
		{
			ID:   "copilot",
			Name: "Copilot",
			URL:  "https://copilot.microsoft.com/",
			Selectors: SelectorSet{
				Input:             []string{"textarea#userInput", "textarea[placeholder]"},
				SendButton:        []string{"button[aria-label='Submit message']", "button[type='submit']"},
				ResponseContainer: []string{"[data-content='user-message'], [data-content='ai-message']"},
				LatestResponse:    []string{"[data-content='ai-message']:last-of-type"},
				LoadingIndicator:  []string{"[data-testid='typing-indicator']"},
				StopButton:        []string{"button[aria-label='Stop responding']"},
				NewChatButton:     []string{"button[aria-label='Start new chat']"},
				ErrorMessage:      []string{"[role='alert']"},
				LoginButton:       []string{"button[title='Sign in']"},
				ConversationItem:  []string{"[role='listitem'] [role='button']"},
				UserMessage:       []string{"[data-content='user-message']"},
				Content:           []string{".font-ligatures-none", "[data-content='ai-message'] > div"},
			},
			LoginURLPatterns: []string{`login\.live\.com`, `login\.microsoftonline\.com`},
		},
	}
}

// MergeServices overlays user descriptors onto the built-ins by ID.
// Unknown IDs are appended as new services. The order of base is kept.
func MergeServices(base, overrides []ServiceDescriptor) []ServiceDescriptor {
	out := make([]ServiceDescriptor, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.ID] = i
	}
	for _, o := range overrides {
		i, ok := index[o.ID]
		if !ok {
			index[o.ID] = len(out)
			out = append(out, o)
			continue
		}
		d := out[i]
		if o.Name != "" {
			d.Name = o.Name
		}
		if o.URL != "" {
			d.URL = o.URL
		}
		d.Disabled = o.Disabled
		d.Selectors = d.Selectors.merge(o.Selectors)
		d.Timings = d.Timings.Merge(o.Timings)
		if len(o.LoginURLPatterns) > 0 {
			d.LoginURLPatterns = o.LoginURLPatterns
		}
		if len(o.ChromePhrases) > 0 {
			d.ChromePhrases = o.ChromePhrases
		}
		out[i] = d
	}
	return out
}

// FindService returns the descriptor with the given ID.
func FindService(services []ServiceDescriptor, id string) (ServiceDescriptor, bool) {
	for _, s := range services {
		if s.ID == id {
			return s, true
		}
	}
	return ServiceDescriptor{}, false
}

// LoadServicesFile reads a selectors file (any format viper understands, keyed by
// "services") and merges it over the built-ins.
func LoadServicesFile(path string) ([]ServiceDescriptor, error) {
	resolved, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand selectors file path: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(resolved)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read selectors file %s: %w", resolved, err)
	}
	var overrides []ServiceDescriptor
	if err := v.UnmarshalKey("services", &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse selectors file %s: %w", resolved, err)
	}
	merged := MergeServices(DefaultServices(), overrides)
	for _, s := range merged {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("service %q invalid: %w", s.ID, err)
		}
	}
	return merged, nil
}
