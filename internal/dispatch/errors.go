package dispatch

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoAccounts is raised before any HTTP call when the pool is empty.
var ErrNoAccounts = errors.New("no Antigravity accounts configured; run `opencode auth login`")

// ErrReauthenticate is raised when every account's refresh token was revoked
// and the stored credentials have been cleared.
var ErrReauthenticate = errors.New("all Antigravity accounts were revoked; run `opencode auth login` to reauthenticate")

// AllCooledError reports that every pooled account is rate-limited right now.
type AllCooledError struct {
	Wait     time.Duration
	Accounts int
}

func (e *AllCooledError) Error() string {
	secs := int(math.Ceil(e.Wait.Seconds()))
	return fmt.Sprintf("all %d account(s) are rate-limited; next attempt possible in %d second(s)", e.Accounts, secs)
}
