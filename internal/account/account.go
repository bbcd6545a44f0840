package account

import "time"

// Account is one enrolled Google identity. RefreshToken is the primary
// identity within the pool; two accounts never share one.
type Account struct {
	Email              string `json:"email"`
	RefreshToken       string `json:"refreshToken"`
	ProjectID          string `json:"projectId,omitempty"`
	ManagedProjectID   string `json:"managedProjectId,omitempty"`
	AddedAt            int64  `json:"addedAt"`            // epoch ms
	LastUsed           int64  `json:"lastUsed"`           // epoch ms
	IsRateLimited      bool   `json:"isRateLimited"`
	RateLimitResetTime int64  `json:"rateLimitResetTime"` // epoch ms, 0 when not cooled

	// Runtime-only token cache, never persisted.
	AccessToken          string `json:"-"`
	AccessTokenExpiresAt int64  `json:"-"` // epoch ms
}

// CooledDown reports whether the account is in an active rate-limit cooldown.
func (a *Account) CooledDown(now time.Time) bool {
	return a.IsRateLimited && a.RateLimitResetTime > now.UnixMilli()
}

// TokenValid reports whether the cached access token is present and not
// within skew of its expiry.
func (a *Account) TokenValid(now time.Time, skew time.Duration) bool {
	if a.AccessToken == "" || a.AccessTokenExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() < a.AccessTokenExpiresAt-skew.Milliseconds()
}

// Parts returns the account's composite segments.
func (a *Account) Parts() Parts {
	return Parts{
		RefreshToken:     a.RefreshToken,
		ProjectID:        a.ProjectID,
		ManagedProjectID: a.ManagedProjectID,
	}
}

// AuthRecord materializes the token bundle, including any cached access token.
func (a *Account) AuthRecord() AuthRecord {
	return NewAuthRecord(a.Parts(), a.AccessToken, a.AccessTokenExpiresAt)
}
