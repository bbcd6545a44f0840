package account

import "strings"

// The host stores a single opaque credential string per provider. For
// Antigravity that string packs up to three values, separated by "|":
//
//	refreshToken
//	refreshToken|projectId
//	refreshToken|projectId|managedProjectId
//
// The format is a bidirectional contract with the host's credential store and
// must round-trip byte-for-byte.

// Parts is the decoded form of the composite refresh string.
type Parts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ComposeRefresh packs parts into the composite string. Trailing empty
// segments are omitted so that a bare refresh token stays a bare token.
func ComposeRefresh(p Parts) string {
	switch {
	case p.ManagedProjectID != "":
		return p.RefreshToken + "|" + p.ProjectID + "|" + p.ManagedProjectID
	case p.ProjectID != "":
		return p.RefreshToken + "|" + p.ProjectID
	default:
		return p.RefreshToken
	}
}

// ParseRefreshParts splits a composite refresh string. Unknown extra segments
// are folded into the managed project id so a newer writer never loses data.
func ParseRefreshParts(s string) Parts {
	segs := strings.SplitN(s, "|", 3)
	p := Parts{RefreshToken: segs[0]}
	if len(segs) > 1 {
		p.ProjectID = segs[1]
	}
	if len(segs) > 2 {
		p.ManagedProjectID = segs[2]
	}
	return p
}

// AuthRecord is the token bundle exchanged with the host ("auth record").
type AuthRecord struct {
	Type    string `json:"type"` // always "oauth"
	Refresh string `json:"refresh"`
	Access  string `json:"access,omitempty"`
	Expires int64  `json:"expires,omitempty"` // epoch ms
}

// NewAuthRecord builds an oauth record from decoded parts.
func NewAuthRecord(p Parts, access string, expires int64) AuthRecord {
	return AuthRecord{Type: "oauth", Refresh: ComposeRefresh(p), Access: access, Expires: expires}
}

// Parts decodes the embedded composite refresh string.
func (r AuthRecord) Parts() Parts {
	return ParseRefreshParts(r.Refresh)
}

// WithParts returns a copy of the record with the composite re-packed from p,
// keeping access token and expiry.
func (r AuthRecord) WithParts(p Parts) AuthRecord {
	r.Refresh = ComposeRefresh(p)
	return r
}

// Valid reports whether the record carries a usable refresh token.
func (r AuthRecord) Valid() bool {
	return r.Parts().RefreshToken != ""
}
