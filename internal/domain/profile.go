package domain

// Profile bundles the model spec, credentials, and context limit the
// orchestrator resolves at the start of each send.
type Profile struct {
	ID           string
	Name         string
	Model        string
	BaseURL      string
	APIKey       string
	SystemPrompt string
	ContextLimit int
	MaxTokens    int
	Temperature  float64
}

// ProfileResolver resolves a profile by ID. Implementations decrypt
// credentials at resolution time.
type ProfileResolver interface {
	Resolve(id string) (Profile, error)
}
