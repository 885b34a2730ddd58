package store

import "context"

// Preferences scopes the preference table to a single user. It satisfies
// consent.Storage.
type Preferences struct {
	repo   Repository
	userID string
}

// PreferencesFor returns the preference view of userID.
func PreferencesFor(repo Repository, userID string) *Preferences {
	return &Preferences{repo: repo, userID: userID}
}

// Get reads key for the user.
func (p *Preferences) Get(ctx context.Context, key string) (string, bool, error) {
	return p.repo.GetPreference(ctx, p.userID, key)
}

// Set writes key for the user.
func (p *Preferences) Set(ctx context.Context, key, value string) error {
	return p.repo.SetPreference(ctx, p.userID, key, value)
}
